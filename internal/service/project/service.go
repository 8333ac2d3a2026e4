// Package project implements the project rules: required descriptive fields,
// per-user unique identifiers, and the lock on records held by a settlement.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/settlements/internal/errs"
	"github.com/tinoosan/settlements/internal/identifier"
	"github.com/tinoosan/settlements/internal/ledger"
)

type Repo interface {
	FindProjects(ctx context.Context, f ledger.ProjectFilter) ([]ledger.Project, error)
	GetProject(ctx context.Context, userID, projectID uuid.UUID) (ledger.Project, error)
}

type Writer interface {
	CreateProject(ctx context.Context, p ledger.Project) (ledger.Project, error)
	// UpdateProject reports errs.ErrImmutable when a settlement holds the project.
	UpdateProject(ctx context.Context, p ledger.Project) (ledger.Project, error)
	// DeleteProject removes the project together with its expenses and
	// returns the settlements that held any of them at deletion time.
	DeleteProject(ctx context.Context, userID, projectID uuid.UUID) ([]uuid.UUID, error)
}

// Recomputer refreshes settlement totals after linked records disappear.
type Recomputer interface {
	Recompute(ctx context.Context, userID, settlementID uuid.UUID) (ledger.Settlement, error)
}

type Service interface {
	Create(ctx context.Context, p ledger.Project) (ledger.Project, error)
	Get(ctx context.Context, userID, projectID uuid.UUID) (ledger.Project, error)
	List(ctx context.Context, userID uuid.UUID) ([]ledger.Project, error)
	Update(ctx context.Context, p ledger.Project) (ledger.Project, error)
	UpdateStatus(ctx context.Context, userID, projectID uuid.UUID, change StatusChange) (ledger.Project, error)
	Delete(ctx context.Context, userID, projectID uuid.UUID) error
}

// StatusChange carries the status fields a caller wants to set. Nil fields are left as is.
type StatusChange struct {
	Execution      *ledger.ExecutionStatus
	Payment        *ledger.PaymentStatus
	SettlementDate *time.Time
}

// ErrIdentifierExists indicates another project of the same user already uses the identifier.
var ErrIdentifierExists = errors.New("project identifier already exists for user")

type Options struct {
	Clock       func() time.Time
	Settlements Recomputer
	Logger      *slog.Logger
}

type service struct {
	repo        Repo
	writer      Writer
	now         func() time.Time
	settlements Recomputer
	log         *slog.Logger
}

func New(repo Repo, writer Writer, opts Options) Service {
	s := &service{repo: repo, writer: writer, now: opts.Clock, settlements: opts.Settlements, log: opts.Logger}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

func validate(p ledger.Project) error {
	if p.UserID == uuid.Nil {
		return errs.ErrInvalid
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", errs.ErrInvalid)
	}
	if strings.TrimSpace(p.PurchaseOrder) == "" {
		return fmt.Errorf("%w: purchase order is required", errs.ErrInvalid)
	}
	if strings.TrimSpace(p.Locality) == "" {
		return fmt.Errorf("%w: locality is required", errs.ErrInvalid)
	}
	if p.QuotedValue.Curr().Code() != ledger.Currency {
		return fmt.Errorf("%w: quoted value must be in %s", errs.ErrInvalid, ledger.Currency)
	}
	if p.QuotedValue.IsNeg() {
		return fmt.Errorf("%w: quoted value must not be negative", errs.ErrInvalid)
	}
	if !p.PaymentStatus.Valid() {
		return fmt.Errorf("%w: invalid payment status", errs.ErrInvalid)
	}
	if !p.ExecutionStatus.Valid() {
		return fmt.Errorf("%w: invalid execution status", errs.ErrInvalid)
	}
	if p.ExecutionStatus == ledger.ExecutionInLiquidation {
		return fmt.Errorf("%w: in_liquidation is set only by settlements", errs.ErrInvalid)
	}
	if p.ExecutionStatus == ledger.ExecutionEnded && p.SettlementDate == nil {
		return fmt.Errorf("%w: ended projects need a settlement date", errs.ErrInvalid)
	}
	return nil
}

// Create validates p, assigns an identifier when none is given and stores it.
func (s *service) Create(ctx context.Context, p ledger.Project) (ledger.Project, error) {
	if p.PaymentStatus == "" {
		p.PaymentStatus = ledger.PaymentPending
	}
	if p.ExecutionStatus == "" {
		p.ExecutionStatus = ledger.ExecutionPending
	}
	if err := validate(p); err != nil {
		return ledger.Project{}, err
	}
	existing, err := s.repo.FindProjects(ctx, ledger.ProjectFilter{UserID: p.UserID})
	if err != nil {
		return ledger.Project{}, err
	}
	p.Identifier = identifier.Normalize(p.Identifier)
	if p.Identifier == "" {
		ids := make([]string, 0, len(existing))
		for _, other := range existing {
			ids = append(ids, other.Identifier)
		}
		p.Identifier = identifier.Next(s.now().Year(), ids)
	}
	for _, other := range existing {
		if identifier.Equal(other.Identifier, p.Identifier) {
			return ledger.Project{}, ErrIdentifierExists
		}
	}
	p.ID = uuid.New()
	p.SettlementID = nil
	created, err := s.writer.CreateProject(ctx, p)
	if errors.Is(err, errs.ErrConflict) {
		return ledger.Project{}, ErrIdentifierExists
	}
	return created, err
}

func (s *service) Get(ctx context.Context, userID, projectID uuid.UUID) (ledger.Project, error) {
	if userID == uuid.Nil || projectID == uuid.Nil {
		return ledger.Project{}, errs.ErrInvalid
	}
	return s.repo.GetProject(ctx, userID, projectID)
}

func (s *service) List(ctx context.Context, userID uuid.UUID) ([]ledger.Project, error) {
	if userID == uuid.Nil {
		return nil, errs.ErrInvalid
	}
	return s.repo.FindProjects(ctx, ledger.ProjectFilter{UserID: userID})
}

// Update replaces the descriptive fields of a project that is not held by a settlement.
// Status fields and the settlement link are kept from the stored record.
func (s *service) Update(ctx context.Context, p ledger.Project) (ledger.Project, error) {
	if p.UserID == uuid.Nil || p.ID == uuid.Nil {
		return ledger.Project{}, errs.ErrInvalid
	}
	current, err := s.repo.GetProject(ctx, p.UserID, p.ID)
	if err != nil {
		return ledger.Project{}, err
	}
	if !current.Editable() {
		return ledger.Project{}, errs.ErrImmutable
	}
	next := current
	next.Name = p.Name
	next.PurchaseOrder = p.PurchaseOrder
	next.QuotedValue = p.QuotedValue
	next.Locality = p.Locality
	if p.Identifier != "" && !identifier.Equal(p.Identifier, current.Identifier) {
		next.Identifier = identifier.Normalize(p.Identifier)
		existing, err := s.repo.FindProjects(ctx, ledger.ProjectFilter{UserID: p.UserID})
		if err != nil {
			return ledger.Project{}, err
		}
		for _, other := range existing {
			if other.ID != p.ID && identifier.Equal(other.Identifier, next.Identifier) {
				return ledger.Project{}, ErrIdentifierExists
			}
		}
	}
	if err := validate(next); err != nil {
		return ledger.Project{}, err
	}
	return s.writer.UpdateProject(ctx, next)
}

// UpdateStatus moves a project between the owner-controlled statuses.
func (s *service) UpdateStatus(ctx context.Context, userID, projectID uuid.UUID, change StatusChange) (ledger.Project, error) {
	if userID == uuid.Nil || projectID == uuid.Nil {
		return ledger.Project{}, errs.ErrInvalid
	}
	current, err := s.repo.GetProject(ctx, userID, projectID)
	if err != nil {
		return ledger.Project{}, err
	}
	if !current.Editable() {
		return ledger.Project{}, errs.ErrImmutable
	}
	next := current
	if change.Execution != nil {
		next.ExecutionStatus = *change.Execution
	}
	if change.Payment != nil {
		next.PaymentStatus = *change.Payment
	}
	if change.SettlementDate != nil {
		d := change.SettlementDate.UTC()
		next.SettlementDate = &d
	}
	if err := validate(next); err != nil {
		return ledger.Project{}, err
	}
	return s.writer.UpdateProject(ctx, next)
}

// Delete removes the project and its expenses, then recomputes every
// settlement that held one of them.
func (s *service) Delete(ctx context.Context, userID, projectID uuid.UUID) error {
	if userID == uuid.Nil || projectID == uuid.Nil {
		return errs.ErrInvalid
	}
	affected, err := s.writer.DeleteProject(ctx, userID, projectID)
	if err != nil {
		return err
	}
	if s.settlements == nil {
		return nil
	}
	for _, id := range affected {
		if _, err := s.settlements.Recompute(ctx, userID, id); err != nil {
			s.log.Warn("recompute after project delete", "project_id", projectID, "settlement_id", id, "err", err)
		}
	}
	return nil
}
