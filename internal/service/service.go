// Package service реализует бизнес-логику сервиса начисления доходности.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/yieldmart/internal/accrual"
	"github.com/mmeshcher/yieldmart/internal/model"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetUserBalance(ctx context.Context, userID uuid.UUID) (model.Balance, error)
	PurchaseProduct(ctx context.Context, userID, productID uuid.UUID, now time.Time) (model.Position, error)
	DeactivatePosition(ctx context.Context, id uuid.UUID) error
	CreateProduct(ctx context.Context, p model.Product) (model.Product, error)
	ListProducts(ctx context.Context, activeOnly bool) ([]model.Product, error)
	ListPositionsByUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]model.Position, error)
	ListEarningsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.EarningRecord, error)
	TotalEarnings(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	ListTransactionsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.Transaction, error)
	CreateRechargeRequest(ctx context.Context, req model.RechargeRequest) (model.RechargeRequest, error)
	ApproveRecharge(ctx context.Context, id uuid.UUID, review model.Review) error
	RejectRecharge(ctx context.Context, id uuid.UUID, review model.Review) error
	ListRechargeRequests(ctx context.Context, userID uuid.UUID, status model.RequestStatus) ([]model.RechargeRequest, error)
	CreateWithdrawalRequest(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, bankDetails string) (model.WithdrawalRequest, error)
	ApproveWithdrawal(ctx context.Context, id uuid.UUID, review model.Review) error
	RejectWithdrawal(ctx context.Context, id uuid.UUID, review model.Review) error
	ListWithdrawalRequests(ctx context.Context, userID uuid.UUID, status model.RequestStatus) ([]model.WithdrawalRequest, error)
}

var (
	// ErrNoteRequired возвращается при отклонении заявки без комментария.
	ErrNoteRequired = errors.New("admin note is required to reject a request")
	// ErrInvalidAmount возвращается для неположительной суммы заявки.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Accruer запускает пакетное начисление.
type Accruer interface {
	Run(ctx context.Context, asOf time.Time) (*model.Report, error)
	RunToday(ctx context.Context) (*model.Report, error)
}

// Service содержит бизнес-логику сервиса.
type Service struct {
	repo    Repository
	accruer Accruer
	logger  *zap.Logger
	now     func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием и движком начислений.
func NewService(repo Repository, accruer Accruer, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		accruer: accruer,
		logger:  logger,
		now:     time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// TriggerAccrual запускает начисление за asOf или за текущий день, если дата не задана.
func (s *Service) TriggerAccrual(ctx context.Context, asOf *time.Time) (*model.Report, error) {
	if asOf != nil {
		return s.accruer.Run(ctx, *asOf)
	}
	return s.accruer.RunToday(ctx)
}

// PurchaseProduct покупает продукт за счёт баланса пользователя и открывает позицию.
func (s *Service) PurchaseProduct(ctx context.Context, userID, productID uuid.UUID) (model.Position, error) {
	return s.repo.PurchaseProduct(ctx, userID, productID, s.now().UTC())
}

// DeactivatePosition досрочно останавливает начисления по позиции.
func (s *Service) DeactivatePosition(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeactivatePosition(ctx, id)
}

// CreateProduct добавляет продукт в каталог.
func (s *Service) CreateProduct(ctx context.Context, p model.Product) (model.Product, error) {
	if !p.Price.IsPositive() || !p.DailyEarning.IsPositive() || p.ContractDays <= 0 {
		return model.Product{}, errors.New("price, daily earning and contract days must be positive")
	}
	return s.repo.CreateProduct(ctx, p)
}

// ListProducts возвращает продукты, доступные для покупки.
func (s *Service) ListProducts(ctx context.Context) ([]model.Product, error) {
	return s.repo.ListProducts(ctx, true)
}

// GetBalance возвращает баланс пользователя.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (model.Balance, error) {
	return s.repo.GetUserBalance(ctx, userID)
}

// ListPositions возвращает позиции пользователя.
func (s *Service) ListPositions(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]model.Position, error) {
	return s.repo.ListPositionsByUser(ctx, userID, activeOnly)
}

// ListEarnings возвращает последние начисления пользователя.
func (s *Service) ListEarnings(ctx context.Context, userID uuid.UUID, limit int) ([]model.EarningRecord, error) {
	return s.repo.ListEarningsByUser(ctx, userID, limit)
}

// TotalEarnings возвращает сумму всех начислений пользователя.
func (s *Service) TotalEarnings(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return s.repo.TotalEarnings(ctx, userID)
}

// ListTransactions возвращает журнал операций пользователя.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]model.Transaction, error) {
	return s.repo.ListTransactionsByUser(ctx, userID, limit)
}

// RequestRecharge создаёт заявку на пополнение кошелька пользователя.
func (s *Service) RequestRecharge(ctx context.Context, req model.RechargeRequest) (model.RechargeRequest, error) {
	if !req.Amount.IsPositive() {
		return model.RechargeRequest{}, ErrInvalidAmount
	}
	return s.repo.CreateRechargeRequest(ctx, req)
}

// RequestWithdrawal списывает сумму с баланса и создаёт заявку на вывод.
func (s *Service) RequestWithdrawal(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, bankDetails string) (model.WithdrawalRequest, error) {
	if !amount.IsPositive() {
		return model.WithdrawalRequest{}, ErrInvalidAmount
	}
	return s.repo.CreateWithdrawalRequest(ctx, userID, amount, bankDetails)
}

// ReviewRecharge одобряет или отклоняет заявку на пополнение.
func (s *Service) ReviewRecharge(ctx context.Context, id, adminID uuid.UUID, approve bool, note string) error {
	review, err := s.review(adminID, approve, note)
	if err != nil {
		return err
	}
	if approve {
		return s.repo.ApproveRecharge(ctx, id, review)
	}
	return s.repo.RejectRecharge(ctx, id, review)
}

// ReviewWithdrawal одобряет или отклоняет заявку на вывод. При отклонении сумма возвращается на баланс.
func (s *Service) ReviewWithdrawal(ctx context.Context, id, adminID uuid.UUID, approve bool, note string) error {
	review, err := s.review(adminID, approve, note)
	if err != nil {
		return err
	}
	if approve {
		return s.repo.ApproveWithdrawal(ctx, id, review)
	}
	return s.repo.RejectWithdrawal(ctx, id, review)
}

func (s *Service) review(adminID uuid.UUID, approve bool, note string) (model.Review, error) {
	if !approve && note == "" {
		return model.Review{}, ErrNoteRequired
	}
	review := model.Review{AdminID: adminID, At: s.now().UTC()}
	if note != "" {
		review.Note = &note
	}
	return review, nil
}

// ListRecharges возвращает заявки на пополнение. Нулевой userID означает всех пользователей.
func (s *Service) ListRecharges(ctx context.Context, userID uuid.UUID, status model.RequestStatus) ([]model.RechargeRequest, error) {
	return s.repo.ListRechargeRequests(ctx, userID, status)
}

// ListWithdrawals возвращает заявки на вывод. Нулевой userID означает всех пользователей.
func (s *Service) ListWithdrawals(ctx context.Context, userID uuid.UUID, status model.RequestStatus) ([]model.WithdrawalRequest, error) {
	return s.repo.ListWithdrawalRequests(ctx, userID, status)
}

// StartAccrualSchedule запускает фоновое начисление с указанным интервалом.
// Повторный запуск в тот же день ничего не начисляет, поэтому интервал может быть короче суток.
func (s *Service) StartAccrualSchedule(ctx context.Context, interval time.Duration) {
	if s.accruer == nil || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.runScheduled(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runScheduled(ctx)
			}
		}
	}()
}

func (s *Service) runScheduled(ctx context.Context) {
	report, err := s.accruer.RunToday(ctx)
	if err != nil {
		if errors.Is(err, accrual.ErrRunInProgress) {
			s.logger.Info("scheduled accrual skipped, run in progress")
			return
		}
		s.logger.Error("scheduled accrual failed", zap.Error(err))
		return
	}

	s.logger.Info("scheduled accrual finished",
		zap.String("run_id", report.RunID),
		zap.String("outcome", report.Outcome()),
		zap.Int("processed", report.Processed),
		zap.Int("deactivated", report.Deactivated),
	)
}
