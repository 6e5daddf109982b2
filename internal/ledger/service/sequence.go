package service

import (
	"context"
	"fmt"
	"time"

	"github.com/agriflow/agriflow-backend/internal/ledger/repository"
	"github.com/agriflow/agriflow-backend/pkg/config"
	"github.com/agriflow/agriflow-backend/pkg/database"
	"github.com/agriflow/agriflow-backend/pkg/errors"
	"github.com/agriflow/agriflow-backend/pkg/logger"
	"github.com/jmoiron/sqlx"
)

// retryBaseDelay is the base of the linear backoff between counter lock
// attempts; attempt n waits n * retryBaseDelay.
const retryBaseDelay = 25 * time.Millisecond

// SequenceService mints gap-free batch numbers of the form PREFIX/FY/NNNN.
// Each prefix has one counter row; minting locks it with NOWAIT and retries
// a bounded number of times before giving up with a contention error.
type SequenceService struct {
	db      *database.DB
	seqRepo *repository.SequenceRepository
	cfg     *config.LedgerConfig
	logger  *logger.Logger
	now     func() time.Time
}

// NewSequenceService creates a new sequence service
func NewSequenceService(db *database.DB, seqRepo *repository.SequenceRepository, cfg *config.LedgerConfig, log *logger.Logger) *SequenceService {
	return &SequenceService{
		db:      db,
		seqRepo: seqRepo,
		cfg:     cfg,
		logger:  log.WithComponent("sequence-service"),
		now:     time.Now,
	}
}

// NextBatchNumber mints the next number for the prefix, rolling the financial
// year window forward and resetting the counter when the window has lapsed.
// The increment commits with the caller-visible number, so a crash after
// commit can at worst leave a gap, never a duplicate.
func (s *SequenceService) NextBatchNumber(ctx context.Context, prefix string) (string, error) {
	var number string

	for attempt := 1; attempt <= s.cfg.SequenceMaxAttempts; attempt++ {
		err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
			n, err := s.mint(ctx, tx, prefix)
			if err != nil {
				return err
			}
			number = n
			return nil
		})
		if err == nil {
			return number, nil
		}
		if !database.IsLockContention(err) {
			return "", err
		}

		s.logger.Debug().
			Str("prefix", prefix).
			Int("attempt", attempt).
			Msg("sequence counter locked, retrying")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBaseDelay):
		}
	}

	return "", errors.SequenceContention(prefix, s.cfg.SequenceMaxAttempts)
}

func (s *SequenceService) mint(ctx context.Context, tx *sqlx.Tx, prefix string) (string, error) {
	repo := s.seqRepo.WithTx(tx)

	counter, err := repo.GetForUpdate(ctx, prefix)
	if errors.Is(err, errors.ErrNotFound) {
		if err := repo.Insert(ctx, s.newCounter(prefix)); err != nil {
			return "", err
		}
		counter, err = repo.GetForUpdate(ctx, prefix)
	}
	if err != nil {
		return "", err
	}

	now := s.now()
	if !now.Before(counter.FYEndDate) {
		start, end := FinancialYearWindow(now, time.Month(s.cfg.FYStartMonth), s.cfg.FYStartDay)
		counter.FYStartDate = start
		counter.FYEndDate = end
		counter.FinancialYear = FinancialYearCode(start)
		counter.CurrentNumber = s.cfg.StartingNumber

		s.logger.Info().
			Str("prefix", prefix).
			Str("financial_year", counter.FinancialYear).
			Msg("rolled sequence counter into new financial year")
	}

	counter.CurrentNumber++
	if err := repo.Save(ctx, counter); err != nil {
		return "", err
	}

	return FormatBatchNumber(prefix, counter.FinancialYear, counter.CurrentNumber), nil
}

func (s *SequenceService) newCounter(prefix string) *repository.SequenceCounter {
	start, end := FinancialYearWindow(s.now(), time.Month(s.cfg.FYStartMonth), s.cfg.FYStartDay)
	return &repository.SequenceCounter{
		Prefix:        prefix,
		CurrentNumber: s.cfg.StartingNumber,
		FinancialYear: FinancialYearCode(start),
		FYStartDate:   start,
		FYEndDate:     end,
	}
}

// RepackedBatchNumber derives the child number for a repacked batch from its
// parent's number. No counter is consumed; the lineage is readable from the
// number itself.
func (s *SequenceService) RepackedBatchNumber(parentNumber string) string {
	return parentNumber + "R"
}

// FinancialYearWindow returns the [start, end) financial year containing t for
// a year boundary at the given month and day.
func FinancialYearWindow(t time.Time, month time.Month, day int) (start, end time.Time) {
	start = time.Date(t.Year(), month, day, 0, 0, 0, 0, t.Location())
	if t.Before(start) {
		start = start.AddDate(-1, 0, 0)
	}
	end = start.AddDate(1, 0, 0)
	return start, end
}

// FinancialYearCode renders a window start as the two-plus-two digit year code
// used in batch numbers, e.g. a year starting April 2025 becomes "2526".
func FinancialYearCode(start time.Time) string {
	return fmt.Sprintf("%02d%02d", start.Year()%100, (start.Year()+1)%100)
}

// FormatBatchNumber renders a full batch number. The sequence part is padded
// to four digits and widens naturally past 9999.
func FormatBatchNumber(prefix, financialYear string, n int64) string {
	return fmt.Sprintf("%s/%s/%04d", prefix, financialYear, n)
}
