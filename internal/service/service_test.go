package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/yieldmart/internal/accrual"
	"github.com/mmeshcher/yieldmart/internal/model"
	"github.com/mmeshcher/yieldmart/internal/repository"
)

type stubRepo struct {
	balance    model.Balance
	balanceErr error

	purchased    model.Position
	purchaseErr  error
	purchaseUser uuid.UUID
	purchaseAt   time.Time

	deactivateErr error

	created model.Product

	activeOnly bool
	products   []model.Product

	earningsLimit int
	total         decimal.Decimal

	rechargeReq model.RechargeRequest
	withdrawArg decimal.Decimal
	withdrawErr error
	reviewed    string
	review      model.Review
	listUser    uuid.UUID
	listStatus  model.RequestStatus
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) GetUserBalance(ctx context.Context, userID uuid.UUID) (model.Balance, error) {
	return s.balance, s.balanceErr
}

func (s *stubRepo) PurchaseProduct(ctx context.Context, userID, productID uuid.UUID, now time.Time) (model.Position, error) {
	s.purchaseUser = userID
	s.purchaseAt = now
	return s.purchased, s.purchaseErr
}

func (s *stubRepo) DeactivatePosition(ctx context.Context, id uuid.UUID) error {
	return s.deactivateErr
}

func (s *stubRepo) CreateProduct(ctx context.Context, p model.Product) (model.Product, error) {
	s.created = p
	return p, nil
}

func (s *stubRepo) ListProducts(ctx context.Context, activeOnly bool) ([]model.Product, error) {
	s.activeOnly = activeOnly
	return s.products, nil
}

func (s *stubRepo) ListPositionsByUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]model.Position, error) {
	return nil, nil
}

func (s *stubRepo) ListEarningsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.EarningRecord, error) {
	s.earningsLimit = limit
	return nil, nil
}

func (s *stubRepo) TotalEarnings(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return s.total, nil
}

func (s *stubRepo) ListTransactionsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.Transaction, error) {
	return nil, nil
}

func (s *stubRepo) CreateRechargeRequest(ctx context.Context, req model.RechargeRequest) (model.RechargeRequest, error) {
	s.rechargeReq = req
	req.Status = model.RequestPending
	return req, nil
}

func (s *stubRepo) ApproveRecharge(ctx context.Context, id uuid.UUID, review model.Review) error {
	s.reviewed, s.review = "approve recharge", review
	return nil
}

func (s *stubRepo) RejectRecharge(ctx context.Context, id uuid.UUID, review model.Review) error {
	s.reviewed, s.review = "reject recharge", review
	return nil
}

func (s *stubRepo) ListRechargeRequests(ctx context.Context, userID uuid.UUID, status model.RequestStatus) ([]model.RechargeRequest, error) {
	s.listUser, s.listStatus = userID, status
	return nil, nil
}

func (s *stubRepo) CreateWithdrawalRequest(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, bankDetails string) (model.WithdrawalRequest, error) {
	s.withdrawArg = amount
	if s.withdrawErr != nil {
		return model.WithdrawalRequest{}, s.withdrawErr
	}
	return model.WithdrawalRequest{UserID: userID, Amount: amount, BankDetails: bankDetails, Status: model.RequestPending}, nil
}

func (s *stubRepo) ApproveWithdrawal(ctx context.Context, id uuid.UUID, review model.Review) error {
	s.reviewed, s.review = "approve withdrawal", review
	return nil
}

func (s *stubRepo) RejectWithdrawal(ctx context.Context, id uuid.UUID, review model.Review) error {
	s.reviewed, s.review = "reject withdrawal", review
	return nil
}

func (s *stubRepo) ListWithdrawalRequests(ctx context.Context, userID uuid.UUID, status model.RequestStatus) ([]model.WithdrawalRequest, error) {
	s.listUser, s.listStatus = userID, status
	return nil, nil
}

type stubAccruer struct {
	runAsOf  time.Time
	runCalls atomic.Int32
	today    atomic.Int32
	err      error
}

func (s *stubAccruer) Run(ctx context.Context, asOf time.Time) (*model.Report, error) {
	s.runCalls.Add(1)
	s.runAsOf = asOf
	return &model.Report{Success: true, AsOf: asOf.Format(model.DateLayout), Errors: []string{}}, s.err
}

func (s *stubAccruer) RunToday(ctx context.Context) (*model.Report, error) {
	s.today.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &model.Report{Success: true, Errors: []string{}}, nil
}

func TestTriggerAccrual_WithDate(t *testing.T) {
	acc := &stubAccruer{}
	svc := NewService(&stubRepo{}, acc, zap.NewNop())

	asOf := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	report, err := svc.TriggerAccrual(context.Background(), &asOf)
	if err != nil {
		t.Fatalf("TriggerAccrual error: %v", err)
	}
	if acc.runCalls.Load() != 1 || !acc.runAsOf.Equal(asOf) {
		t.Fatalf("Run not called with as-of date, calls=%d asOf=%v", acc.runCalls.Load(), acc.runAsOf)
	}
	if report.AsOf != "2024-03-15" {
		t.Fatalf("AsOf = %q, want 2024-03-15", report.AsOf)
	}
}

func TestTriggerAccrual_Today(t *testing.T) {
	acc := &stubAccruer{}
	svc := NewService(&stubRepo{}, acc, zap.NewNop())

	if _, err := svc.TriggerAccrual(context.Background(), nil); err != nil {
		t.Fatalf("TriggerAccrual error: %v", err)
	}
	if acc.today.Load() != 1 {
		t.Fatalf("RunToday calls = %d, want 1", acc.today.Load())
	}
}

func TestTriggerAccrual_PropagatesRunInProgress(t *testing.T) {
	acc := &stubAccruer{err: accrual.ErrRunInProgress}
	svc := NewService(&stubRepo{}, acc, zap.NewNop())

	_, err := svc.TriggerAccrual(context.Background(), nil)
	if !errors.Is(err, accrual.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
}

func TestPurchaseProduct_UsesClock(t *testing.T) {
	repo := &stubRepo{purchaseErr: repository.ErrInsufficientBalance}
	svc := NewService(repo, nil, zap.NewNop())
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	svc.now = func() time.Time { return now }

	userID := uuid.New()
	_, err := svc.PurchaseProduct(context.Background(), userID, uuid.New())
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if repo.purchaseUser != userID {
		t.Fatalf("purchase user = %s, want %s", repo.purchaseUser, userID)
	}
	if !repo.purchaseAt.Equal(now) || repo.purchaseAt.Location() != time.UTC {
		t.Fatalf("purchase time = %v, want %v in UTC", repo.purchaseAt, now)
	}
}

func TestCreateProductValidation(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, zap.NewNop())

	_, err := svc.CreateProduct(context.Background(), model.Product{
		Name:         "Bad",
		Price:        decimal.RequireFromString("-1"),
		DailyEarning: decimal.RequireFromString("1"),
		ContractDays: 10,
	})
	if err == nil {
		t.Fatalf("expected error for negative price")
	}

	p, err := svc.CreateProduct(context.Background(), model.Product{
		Name:         "Good",
		Price:        decimal.RequireFromString("100"),
		DailyEarning: decimal.RequireFromString("1.5"),
		ContractDays: 90,
	})
	if err != nil {
		t.Fatalf("CreateProduct error: %v", err)
	}
	if p.Name != "Good" || repo.created.Name != "Good" {
		t.Fatalf("product not passed to repository: %+v", repo.created)
	}
}

func TestListProducts_ActiveOnly(t *testing.T) {
	repo := &stubRepo{products: []model.Product{{Name: "A"}}}
	svc := NewService(repo, nil, zap.NewNop())

	res, err := svc.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("ListProducts error: %v", err)
	}
	if !repo.activeOnly || len(res) != 1 {
		t.Fatalf("unexpected products: %+v, activeOnly=%v", res, repo.activeOnly)
	}
}

func TestGetBalance_PassThrough(t *testing.T) {
	repo := &stubRepo{balance: model.Balance{
		Current:      decimal.RequireFromString("105.00"),
		Withdrawable: decimal.RequireFromString("55.00"),
	}}
	svc := NewService(repo, nil, zap.NewNop())

	balance, err := svc.GetBalance(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetBalance error: %v", err)
	}
	if !balance.Current.Equal(decimal.RequireFromString("105")) {
		t.Fatalf("Current = %v, want 105", balance.Current)
	}
}

func TestRequestWithdrawal(t *testing.T) {
	repo := &stubRepo{withdrawErr: repository.ErrInsufficientBalance}
	svc := NewService(repo, nil, zap.NewNop())

	_, err := svc.RequestWithdrawal(context.Background(), uuid.New(), decimal.Zero, "IBAN")
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero amount, got %v", err)
	}
	if !repo.withdrawArg.IsZero() {
		t.Fatalf("repository called for zero amount")
	}

	_, err = svc.RequestWithdrawal(context.Background(), uuid.New(), decimal.RequireFromString("40"), "IBAN")
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestRequestRecharge_RejectsNegativeAmount(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, zap.NewNop())

	_, err := svc.RequestRecharge(context.Background(), model.RechargeRequest{Amount: decimal.RequireFromString("-5")})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	req, err := svc.RequestRecharge(context.Background(), model.RechargeRequest{Amount: decimal.RequireFromString("50")})
	if err != nil {
		t.Fatalf("RequestRecharge error: %v", err)
	}
	if req.Status != model.RequestPending || !repo.rechargeReq.Amount.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("unexpected recharge request: %+v", req)
	}
}

func TestReviewRequests(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	admin := uuid.New()

	tests := []struct {
		name    string
		review  func(svc *Service) error
		want    string
		wantErr error
	}{
		{
			name: "approve recharge without note",
			review: func(svc *Service) error {
				return svc.ReviewRecharge(context.Background(), uuid.New(), admin, true, "")
			},
			want: "approve recharge",
		},
		{
			name: "reject recharge",
			review: func(svc *Service) error {
				return svc.ReviewRecharge(context.Background(), uuid.New(), admin, false, "blurry screenshot")
			},
			want: "reject recharge",
		},
		{
			name: "approve withdrawal",
			review: func(svc *Service) error {
				return svc.ReviewWithdrawal(context.Background(), uuid.New(), admin, true, "paid")
			},
			want: "approve withdrawal",
		},
		{
			name: "reject withdrawal",
			review: func(svc *Service) error {
				return svc.ReviewWithdrawal(context.Background(), uuid.New(), admin, false, "wrong IBAN")
			},
			want: "reject withdrawal",
		},
		{
			name: "reject without note",
			review: func(svc *Service) error {
				return svc.ReviewWithdrawal(context.Background(), uuid.New(), admin, false, "")
			},
			wantErr: ErrNoteRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepo{}
			svc := NewService(repo, nil, zap.NewNop())
			svc.now = func() time.Time { return now }

			err := tt.review(svc)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if repo.reviewed != "" {
					t.Fatalf("repository called: %s", repo.reviewed)
				}
				return
			}
			if err != nil {
				t.Fatalf("review error: %v", err)
			}
			if repo.reviewed != tt.want {
				t.Fatalf("reviewed = %q, want %q", repo.reviewed, tt.want)
			}
			if repo.review.AdminID != admin || !repo.review.At.Equal(now) || repo.review.At.Location() != time.UTC {
				t.Fatalf("unexpected review: %+v", repo.review)
			}
		})
	}
}

func TestListWithdrawals_PassesFilters(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, zap.NewNop())

	if _, err := svc.ListWithdrawals(context.Background(), uuid.Nil, model.RequestPending); err != nil {
		t.Fatalf("ListWithdrawals error: %v", err)
	}
	if repo.listUser != uuid.Nil || repo.listStatus != model.RequestPending {
		t.Fatalf("filters not passed: user=%s status=%q", repo.listUser, repo.listStatus)
	}
}

func TestStartAccrualSchedule_Disabled(t *testing.T) {
	acc := &stubAccruer{}
	svc := NewService(&stubRepo{}, acc, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.StartAccrualSchedule(ctx, 0)
	time.Sleep(20 * time.Millisecond)

	if acc.today.Load() != 0 {
		t.Fatalf("RunToday called %d times with disabled schedule", acc.today.Load())
	}
}

func TestStartAccrualSchedule_RunsImmediatelyAndOnTick(t *testing.T) {
	acc := &stubAccruer{}
	svc := NewService(&stubRepo{}, acc, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.StartAccrualSchedule(ctx, 10*time.Millisecond)

	deadline := time.After(time.Second)
	for acc.today.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("RunToday called %d times, want at least 2", acc.today.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStartAccrualSchedule_ToleratesErrors(t *testing.T) {
	acc := &stubAccruer{err: accrual.ErrRunInProgress}
	svc := NewService(&stubRepo{}, acc, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.StartAccrualSchedule(ctx, 10*time.Millisecond)

	deadline := time.After(time.Second)
	for acc.today.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("schedule stopped after error")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
