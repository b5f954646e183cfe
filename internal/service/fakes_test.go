package service

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Swapica/order-ledger-svc/internal/chain"
	"github.com/Swapica/order-ledger-svc/internal/config"
	"github.com/Swapica/order-ledger-svc/internal/data"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000Aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000Bb")
	alice  = common.HexToAddress("0x000000000000000000000000000000000000A11c")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000B0b")
)

type fakeChain struct {
	mu sync.Mutex

	count      *big.Int
	countErrs  int
	countCalls int
	ids        []*big.Int
	infos      map[string]chain.OrderInfo
	infoCalls  map[string]int
	infoGates  map[string]chan struct{}
	decimals   map[common.Address]uint8
	decCalls   map[common.Address]int
	logs       []types.Log
	head       uint64
	windows    [][2]uint64
	sub        *fakeSubscription
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		count:     new(big.Int),
		infos:     map[string]chain.OrderInfo{},
		infoCalls: map[string]int{},
		infoGates: map[string]chan struct{}{},
		decimals:  map[common.Address]uint8{tokenA: 6, tokenB: 18},
		decCalls:  map[common.Address]int{},
	}
}

func (c *fakeChain) addOrder(info chain.OrderInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, info.ID)
	c.infos[info.ID.String()] = info
	c.count = big.NewInt(int64(len(c.ids)))
}

func (c *fakeChain) OrderCount(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.countCalls++
	if c.countErrs > 0 {
		c.countErrs--
		return nil, errors.New("connection reset")
	}
	return c.count, nil
}

func (c *fakeChain) OrderIDAt(_ context.Context, index uint64) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index >= uint64(len(c.ids)) {
		return nil, errors.New("index out of range")
	}
	return c.ids[index], nil
}

func (c *fakeChain) OrderInfo(_ context.Context, id *big.Int) (chain.OrderInfo, error) {
	c.mu.Lock()
	gate := c.infoGates[id.String()]
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.infoCalls[id.String()]++
	info, ok := c.infos[id.String()]
	if !ok {
		return chain.OrderInfo{}, errors.New("order does not exist")
	}
	return info, nil
}

func (c *fakeChain) Decimals(_ context.Context, token common.Address) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decCalls[token]++
	d, ok := c.decimals[token]
	if !ok {
		return 0, errors.New("not an erc20")
	}
	return d, nil
}

func (c *fakeChain) FilterEvents(_ context.Context, from uint64, to *uint64, names ...string) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	upper := c.head
	if to != nil {
		upper = *to
	}
	c.windows = append(c.windows, [2]uint64{from, upper})

	wanted := map[common.Hash]bool{}
	for _, name := range names {
		wanted[chain.OrderControllerABI().Events[name].ID] = true
	}

	var result []types.Log
	for _, l := range c.logs {
		if len(l.Topics) == 0 || !wanted[l.Topics[0]] {
			continue
		}
		if l.BlockNumber < from || l.BlockNumber > upper {
			continue
		}
		result = append(result, l)
	}
	return result, nil
}

func (c *fakeChain) HeadBlock(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeChain) SubscribeEvents(_ context.Context, sink chan<- types.Log, _ ...string) (ethereum.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sub = &fakeSubscription{sink: sink, errs: make(chan error, 1)}
	return c.sub, nil
}

type fakeSubscription struct {
	sink chan<- types.Log
	errs chan error
}

func (s *fakeSubscription) Unsubscribe()      {}
func (s *fakeSubscription) Err() <-chan error { return s.errs }

// memOrders mirrors the postgres semantics: unique order_id, monotonic fills,
// final CANCELLED, FILLED kept unless the update brings more fill.
type memOrders struct {
	mu     sync.Mutex
	rows   map[string]data.Order
	nextID int64

	lastFilter data.OrderBookFilter
	lastMatch  data.MatchQuery
}

func newMemOrders() *memOrders {
	return &memOrders{rows: map[string]data.Order{}}
}

func (m *memOrders) Insert(order data.Order) (data.WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[order.OrderID]; ok {
		return data.AlreadyExisted, nil
	}
	m.nextID++
	order.ID = m.nextID
	order.CreatedAt = time.Now()
	m.rows[order.OrderID] = order
	return data.Created, nil
}

func (m *memOrders) Update(upd data.OrderUpdate) (data.WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[upd.OrderID]
	if !ok {
		return data.NotFound, nil
	}
	progressed := upd.BuyAmountFilled.GreaterThan(row.BuyAmountFilled) ||
		upd.SellAmountFilled.GreaterThan(row.SellAmountFilled)
	switch {
	case row.Status == data.OrderCancelled:
	case row.Status == data.OrderFilled && !progressed:
	default:
		row.Status = upd.Status
	}
	if upd.BuyAmountFilled.GreaterThan(row.BuyAmountFilled) {
		row.BuyAmountFilled = upd.BuyAmountFilled
	}
	if upd.SellAmountFilled.GreaterThan(row.SellAmountFilled) {
		row.SellAmountFilled = upd.SellAmountFilled
	}
	m.rows[upd.OrderID] = row
	return data.Updated, nil
}

func (m *memOrders) Cancel(orderID string) (data.WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[orderID]
	if !ok {
		return data.NotFound, nil
	}
	row.Status = data.OrderCancelled
	m.rows[orderID] = row
	return data.Updated, nil
}

func (m *memOrders) Get(orderID string) (*data.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[orderID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *memOrders) OrderIDs() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.rows))
	for id := range m.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memOrders) Select(filter data.OrderBookFilter) ([]data.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter

	var result []data.Order
	for _, row := range m.rows {
		if filter.BuyToken != "" && row.BuyToken != filter.BuyToken {
			continue
		}
		if filter.SellToken != "" && row.SellToken != filter.SellToken {
			continue
		}
		if filter.User != "" && row.User != filter.User {
			continue
		}
		if filter.ActiveOnly && row.Status != data.OrderActive && row.Status != data.OrderPartiallyFilled {
			continue
		}
		result = append(result, row)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *memOrders) MatchingCandidates(query data.MatchQuery) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastMatch = query
	return nil, nil
}

func (m *memOrders) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memUsers struct {
	mu      sync.Mutex
	rows    map[string]data.User
	failFor map[string]bool
}

func newMemUsers() *memUsers {
	return &memUsers{rows: map[string]data.User{}, failFor: map[string]bool{}}
}

func (m *memUsers) GetOrCreate(address string) (*data.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[address] {
		return nil, errors.New("users table is locked")
	}
	user, ok := m.rows[address]
	if !ok {
		user = data.User{Address: address, CreatedAt: time.Now()}
		m.rows[address] = user
	}
	return &user, nil
}

func (m *memUsers) Get(address string) (*data.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.rows[address]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

type memRefreshTokens struct {
	deleted []string
}

func (m *memRefreshTokens) DeleteByUser(address string) error {
	m.deleted = append(m.deleted, address)
	return nil
}

type memBlock struct {
	mu    sync.Mutex
	block *uint64
}

func (m *memBlock) Set(number uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.block == nil || number > *m.block {
		m.block = &number
	}
	return nil
}

func (m *memBlock) Get() (*uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.block == nil {
		return nil, nil
	}
	v := *m.block
	return &v, nil
}

func info(id int64, user common.Address, amountA, amountB, filledA, filledB int64) chain.OrderInfo {
	return chain.OrderInfo{
		ID:            big.NewInt(id),
		AmountA:       big.NewInt(amountA),
		AmountB:       big.NewInt(amountB),
		AmountFilledA: big.NewInt(filledA),
		AmountFilledB: big.NewInt(filledB),
		TokenA:        tokenA,
		TokenB:        tokenB,
		User:          user,
	}
}

func testBackfillConfig() config.Backfill {
	cfg := config.DefaultBackfill()
	cfg.IDChunkPause = 0
	cfg.InfoChunkPause = 0
	cfg.Item.InitialDelay = time.Millisecond
	cfg.Stage.Delay = time.Millisecond
	return cfg
}

func testIngestorConfig() config.Ingestor {
	cfg := config.DefaultIngestor()
	cfg.MatchRetryStep = time.Millisecond
	return cfg
}

func packLog(t *testing.T, name string, indexedID *big.Int, block uint64, args ...interface{}) types.Log {
	t.Helper()

	event := chain.OrderControllerABI().Events[name]
	payload, err := event.Inputs.NonIndexed().Pack(args...)
	require.NoError(t, err)

	topics := []common.Hash{event.ID}
	if indexedID != nil {
		topics = append(topics, common.BigToHash(indexedID))
	}
	return types.Log{Topics: topics, Data: payload, BlockNumber: block}
}

func cancelledLog(t *testing.T, id int64, block uint64) types.Log {
	return packLog(t, chain.EventOrderCancelled, nil, block, big.NewInt(id))
}
