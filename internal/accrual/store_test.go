package accrual

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/yieldmart/internal/model"
	"github.com/mmeshcher/yieldmart/internal/repository"
)

// memStore хранит позиции, балансы и журнал в памяти и повторяет
// семантику PostgresRepository, включая защищённое обновление позиции.
type memStore struct {
	mu sync.Mutex

	order     []uuid.UUID
	positions map[uuid.UUID]*model.Position
	balances  map[uuid.UUID]decimal.Decimal
	earnings  []model.EarningRecord
	txs       []model.Transaction

	selectErr   error
	updateErr   map[uuid.UUID]error
	creditErr   map[uuid.UUID]error
	earningErr  map[uuid.UUID]error
	txErr       map[uuid.UUID]error
	onUpdate    func(id uuid.UUID)
	afterUpdate func(id uuid.UUID)
	selectGate  chan struct{}
	selectCalls int
}

func newMemStore() *memStore {
	return &memStore{
		positions:  make(map[uuid.UUID]*model.Position),
		balances:   make(map[uuid.UUID]decimal.Decimal),
		updateErr:  make(map[uuid.UUID]error),
		creditErr:  make(map[uuid.UUID]error),
		earningErr: make(map[uuid.UUID]error),
		txErr:      make(map[uuid.UUID]error),
	}
}

func (s *memStore) addUser(balance string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New()
	s.balances[id] = decimal.RequireFromString(balance)
	return id
}

func (s *memStore) addPosition(p model.Position) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.order = append(s.order, p.ID)
	s.positions[p.ID] = &p
	return p.ID
}

func (s *memStore) position(id uuid.UUID) model.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.positions[id]
}

func (s *memStore) balance(userID uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

func (s *memStore) SelectEligiblePositions(ctx context.Context, today time.Time) ([]model.Position, error) {
	if s.selectGate != nil {
		select {
		case <-s.selectGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.selectCalls++
	if s.selectErr != nil {
		return nil, s.selectErr
	}

	var res []model.Position
	for _, id := range s.order {
		if p := s.positions[id]; p.EligibleOn(today) {
			res = append(res, *p)
		}
	}
	return res, nil
}

func (s *memStore) UpdatePosition(ctx context.Context, id uuid.UUID, upd model.PositionUpdate) error {
	if s.onUpdate != nil {
		s.onUpdate(id)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.updateErr[id]; err != nil {
		s.mu.Unlock()
		return err
	}
	p, ok := s.positions[id]
	if !ok || !applicable(p, upd) {
		s.mu.Unlock()
		return repository.ErrPositionNotEligible
	}

	day := upd.LastEarningDate
	p.DaysRemaining = upd.DaysRemaining
	p.TotalEarned = upd.TotalEarned
	p.IsActive = upd.IsActive
	p.LastEarningDate = &day
	s.mu.Unlock()

	if s.afterUpdate != nil {
		s.afterUpdate(id)
	}
	return nil
}

// applicable повторяет условие WHERE из updatePositionSQL.
func applicable(p *model.Position, upd model.PositionUpdate) bool {
	return p.EligibleOn(upd.LastEarningDate) && p.DaysRemaining == upd.PrevDaysRemaining
}

func (s *memStore) CreditUserBalance(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.creditErr[userID]; err != nil {
		return decimal.Zero, err
	}
	b, ok := s.balances[userID]
	if !ok {
		return decimal.Zero, repository.ErrUserNotFound
	}
	b = b.Add(amount)
	s.balances[userID] = b
	return b, nil
}

func (s *memStore) InsertEarningRecord(ctx context.Context, rec model.EarningRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.earningErr[rec.PositionID]; err != nil {
		return err
	}
	for _, e := range s.earnings {
		if e.PositionID == rec.PositionID && e.EarningDate.Equal(rec.EarningDate) {
			return nil
		}
	}
	s.earnings = append(s.earnings, rec)
	return nil
}

func (s *memStore) InsertTransaction(ctx context.Context, t model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ReferenceID != nil {
		if err := s.txErr[*t.ReferenceID]; err != nil {
			return err
		}
	}
	s.txs = append(s.txs, t)
	return nil
}

// atomicMemStore дополнительно поддерживает начисление одной транзакцией.
type atomicMemStore struct {
	*memStore
	atomicCalls int
}

func (s *atomicMemStore) AccrueAtomic(ctx context.Context, p model.Position, upd model.PositionUpdate, description string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.atomicCalls++

	if err := s.creditErr[p.UserID]; err != nil {
		return decimal.Zero, err
	}
	pos, ok := s.positions[p.ID]
	if !ok || !applicable(pos, upd) {
		return decimal.Zero, repository.ErrPositionNotEligible
	}
	b, ok := s.balances[p.UserID]
	if !ok {
		return decimal.Zero, repository.ErrUserNotFound
	}

	day := upd.LastEarningDate
	pos.DaysRemaining = upd.DaysRemaining
	pos.TotalEarned = upd.TotalEarned
	pos.IsActive = upd.IsActive
	pos.LastEarningDate = &day

	b = b.Add(p.DailyEarning)
	s.balances[p.UserID] = b

	ref := p.ID
	s.earnings = append(s.earnings, model.EarningRecord{UserID: p.UserID, PositionID: p.ID, Amount: p.DailyEarning, EarningDate: day})
	s.txs = append(s.txs, model.Transaction{
		UserID:       p.UserID,
		Type:         model.TransactionEarning,
		Amount:       p.DailyEarning,
		BalanceAfter: b,
		Description:  description,
		ReferenceID:  &ref,
	})
	return b, nil
}

type recorderStub struct {
	mu       sync.Mutex
	runs     map[string]int
	results  map[string]int
	credited decimal.Decimal
}

func newRecorderStub() *recorderStub {
	return &recorderStub{runs: map[string]int{}, results: map[string]int{}}
}

func (r *recorderStub) RunFinished(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[outcome]++
}

func (r *recorderStub) PositionHandled(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[result]++
}

func (r *recorderStub) Credited(amount decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.credited = r.credited.Add(amount)
}

type publisherStub struct {
	mu     sync.Mutex
	events []model.AccrualEvent
	err    error
}

func (p *publisherStub) PublishAccrual(_ context.Context, ev model.AccrualEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

type lockStub struct {
	acquired bool
	err      error
	released int
}

func (l *lockStub) Acquire(context.Context, time.Time) (func(), bool, error) {
	if l.err != nil || !l.acquired {
		return nil, false, l.err
	}
	return func() { l.released++ }, true, nil
}
