package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

var ErrMalformedEvent = errors.New("malformed event")

// Event is one decoded contract event: *OrderCreated, *OrderMatched or *OrderCancelled.
type Event interface {
	Name() string
	OrderID() *big.Int
	Log() types.Log
}

type OrderCreated struct {
	ID       *big.Int
	AmountA  *big.Int
	AmountB  *big.Int
	TokenA   common.Address
	TokenB   common.Address
	User     common.Address
	IsMarket bool
	Raw      types.Log
}

type OrderMatched struct {
	ID               *big.Int
	MatchedID        *big.Int
	AmountReceived   *big.Int
	AmountPaid       *big.Int
	AmountLeftToFill *big.Int
	Fee              *big.Int
	FeeRate          *big.Int
	Raw              types.Log
}

type OrderCancelled struct {
	ID  *big.Int
	Raw types.Log
}

func (e *OrderCreated) Name() string        { return EventOrderCreated }
func (e *OrderCreated) OrderID() *big.Int   { return e.ID }
func (e *OrderCreated) Log() types.Log      { return e.Raw }
func (e *OrderMatched) Name() string        { return EventOrderMatched }
func (e *OrderMatched) OrderID() *big.Int   { return e.ID }
func (e *OrderMatched) Log() types.Log      { return e.Raw }
func (e *OrderCancelled) Name() string      { return EventOrderCancelled }
func (e *OrderCancelled) OrderID() *big.Int { return e.ID }
func (e *OrderCancelled) Log() types.Log    { return e.Raw }

// DecodeEvent turns a raw contract log into its typed event. Logs that do not
// belong to a mirrored event or miss a field are rejected with ErrMalformedEvent.
func DecodeEvent(log types.Log) (Event, error) {
	if len(log.Topics) == 0 {
		return nil, errors.From(ErrMalformedEvent, logan.F{"reason": "no topics"})
	}

	topic := log.Topics[0] // First topic must be a hashed signature of the event
	event, err := orderControllerABI.EventByID(topic)
	if err != nil {
		return nil, errors.From(ErrMalformedEvent, logan.F{"topic": topic.Hex()})
	}

	fields, err := unpack(*event, log)
	if err != nil {
		return nil, errors.From(ErrMalformedEvent, logan.F{"event": event.Name, "reason": err.Error()})
	}
	f := fieldReader{fields: fields}

	var decoded Event
	switch event.Name {
	case EventOrderCreated:
		decoded = &OrderCreated{
			ID:       f.bigInt("id"),
			AmountA:  f.bigInt("amountA"),
			AmountB:  f.bigInt("amountB"),
			TokenA:   f.address("tokenA"),
			TokenB:   f.address("tokenB"),
			User:     f.address("user"),
			IsMarket: f.boolean("isMarket"),
			Raw:      log,
		}
	case EventOrderMatched:
		decoded = &OrderMatched{
			ID:               f.bigInt("id"),
			MatchedID:        f.bigInt("matchedId"),
			AmountReceived:   f.bigInt("amountReceived"),
			AmountPaid:       f.bigInt("amountPaid"),
			AmountLeftToFill: f.bigInt("amountLeftToFill"),
			Fee:              f.bigInt("fee"),
			FeeRate:          f.bigInt("feeRate"),
			Raw:              log,
		}
	case EventOrderCancelled:
		decoded = &OrderCancelled{ID: f.bigInt("id"), Raw: log}
	default:
		return nil, errors.From(ErrMalformedEvent, logan.F{"event": event.Name, "reason": "not mirrored"})
	}

	if len(f.missing) > 0 {
		return nil, errors.From(ErrMalformedEvent, logan.F{"event": event.Name, "missing": f.missing})
	}
	return decoded, nil
}

func unpack(event abi.Event, log types.Log) (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	if err := event.Inputs.UnpackIntoMap(fields, log.Data); err != nil {
		return nil, errors.Wrap(err, "failed to unpack data")
	}

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(log.Topics)-1 != len(indexed) {
		return nil, errors.New("indexed topics count mismatch")
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, log.Topics[1:]); err != nil {
		return nil, errors.Wrap(err, "failed to parse topics")
	}
	return fields, nil
}

type fieldReader struct {
	fields  map[string]interface{}
	missing []string
}

func (r *fieldReader) bigInt(name string) *big.Int {
	v, ok := r.fields[name].(*big.Int)
	if !ok || v == nil {
		r.missing = append(r.missing, name)
		return nil
	}
	return v
}

func (r *fieldReader) address(name string) common.Address {
	v, ok := r.fields[name].(common.Address)
	if !ok {
		r.missing = append(r.missing, name)
	}
	return v
}

func (r *fieldReader) boolean(name string) bool {
	v, ok := r.fields[name].(bool)
	if !ok {
		r.missing = append(r.missing, name)
	}
	return v
}
