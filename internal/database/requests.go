package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"kc-go/internal/catalog"
	"kc-go/internal/model"
)

const requestColumns = "id, facility_id, source_model, source_id, type, reason, status, contentnode_id, metadata, requested_at"

// RequestLedger implements catalog.RequestLedger over content_contentrequest.
type RequestLedger struct {
	db    *sql.DB
	q     *queries
	ids   catalog.IDGenerator
	clock catalog.Clock
}

func (l *RequestLedger) Downloads() catalog.RequestView { return l.View(model.RequestDownload) }
func (l *RequestLedger) Removals() catalog.RequestView  { return l.View(model.RequestRemoval) }

// View returns the ledger restricted to t. A view with an empty type fails
// every operation with catalog.ErrUntypedRequestView.
func (l *RequestLedger) View(t model.RequestType) *RequestView {
	return &RequestView{ledger: l, typ: t}
}

// RequestView implements catalog.RequestView.
type RequestView struct {
	ledger *RequestLedger
	typ    model.RequestType
}

func (v *RequestView) Type() model.RequestType { return v.typ }

func (v *RequestView) check() error {
	if v.typ == "" {
		return catalog.ErrUntypedRequestView
	}
	return nil
}

func (v *RequestView) BuildForUser(user model.FacilityUser, contentNodeID string) (*model.ContentRequest, error) {
	if err := v.check(); err != nil {
		return nil, err
	}
	return &model.ContentRequest{
		FacilityID:    user.FacilityID,
		SourceModel:   model.FacilityUserModel,
		SourceID:      user.ID,
		Type:          v.typ,
		Reason:        model.ReasonUserInitiated,
		Status:        model.StatusPending,
		ContentNodeID: contentNodeID,
	}, nil
}

// Create saves req as pending, tagged with the view's type. It fills in the
// id and requested time when they are unset.
func (v *RequestView) Create(ctx context.Context, req *model.ContentRequest) error {
	if err := v.check(); err != nil {
		return err
	}
	if req.ID == "" {
		req.ID = v.ledger.ids.New()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = v.ledger.clock.Now()
	}
	if req.Reason == "" {
		req.Reason = model.ReasonUserInitiated
	}
	req.RequestedAt = req.RequestedAt.UTC()
	req.Type = v.typ
	req.Status = model.StatusPending

	var metadata any
	if len(req.Metadata) > 0 {
		if !json.Valid(req.Metadata) {
			return fmt.Errorf("request metadata is not valid JSON")
		}
		metadata = string(req.Metadata)
	}

	_, err := v.ledger.q.db.ExecContext(ctx,
		"INSERT INTO content_contentrequest ("+requestColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		req.ID, req.FacilityID, req.SourceModel, req.SourceID, string(req.Type), string(req.Reason),
		string(req.Status), req.ContentNodeID, metadata, req.RequestedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s/%s for %s", catalog.ErrDuplicateRequest,
				req.Type, req.SourceModel, req.SourceID, req.ContentNodeID)
		}
		return fmt.Errorf("creating request: %w", err)
	}
	return nil
}

func (v *RequestView) CreateOrGet(ctx context.Context, req *model.ContentRequest) (*model.ContentRequest, bool, error) {
	err := v.Create(ctx, req)
	if err == nil {
		return req, true, nil
	}
	if !errors.Is(err, catalog.ErrDuplicateRequest) {
		return nil, false, err
	}

	existing, err := v.find(ctx, "source_model = ? AND source_id = ? AND contentnode_id = ?",
		req.SourceModel, req.SourceID, req.ContentNodeID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// Deleted between the failed insert and this lookup.
		return nil, false, fmt.Errorf("%w: duplicate vanished", catalog.ErrRequestNotFound)
	}
	return existing, false, nil
}

// Get returns the request with id, or nil if this view has no such request.
func (v *RequestView) Get(ctx context.Context, id string) (*model.ContentRequest, error) {
	if err := v.check(); err != nil {
		return nil, err
	}
	return v.find(ctx, "id = ?", id)
}

func (v *RequestView) find(ctx context.Context, where string, args ...any) (*model.ContentRequest, error) {
	query := "SELECT " + requestColumns + " FROM content_contentrequest WHERE type = ? AND " + where
	row := v.ledger.q.db.QueryRowContext(ctx, query, append([]any{string(v.typ)}, args...)...)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding request: %w", err)
	}
	return &req, nil
}

// List returns the view's requests matching f, oldest first.
func (v *RequestView) List(ctx context.Context, f catalog.RequestFilter) ([]model.ContentRequest, error) {
	if err := v.check(); err != nil {
		return nil, err
	}

	clauses := []string{"type = ?"}
	args := []any{string(v.typ)}
	add := func(col, val string) {
		if val != "" {
			clauses = append(clauses, col+" = ?")
			args = append(args, val)
		}
	}
	add("facility_id", f.FacilityID)
	add("source_model", f.SourceModel)
	add("source_id", f.SourceID)
	add("contentnode_id", f.ContentNodeID)
	add("status", string(f.Status))

	query := "SELECT " + requestColumns + " FROM content_contentrequest WHERE " +
		strings.Join(clauses, " AND ") + " ORDER BY requested_at, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := v.ledger.q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	defer rows.Close()

	var reqs []model.ContentRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// UpdateStatus moves a request to status, enforcing the status state machine.
func (v *RequestView) UpdateStatus(ctx context.Context, id string, status model.RequestStatus) error {
	if err := v.check(); err != nil {
		return err
	}
	return inTx(ctx, v.ledger.db, v.ledger.q, func(qtx *queries) error {
		var current string
		err := qtx.db.QueryRowContext(ctx,
			"SELECT status FROM content_contentrequest WHERE id = ? AND type = ?", id, string(v.typ)).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", catalog.ErrRequestNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("reading request status: %w", err)
		}

		if !model.RequestStatus(current).CanTransition(status) {
			return fmt.Errorf("%w: %s -> %s", catalog.ErrInvalidTransition, current, status)
		}
		if _, err := qtx.db.ExecContext(ctx,
			"UPDATE content_contentrequest SET status = ? WHERE id = ?", string(status), id); err != nil {
			return fmt.Errorf("updating request status: %w", err)
		}
		return nil
	})
}

func (v *RequestView) Delete(ctx context.Context, id string) error {
	if err := v.check(); err != nil {
		return err
	}
	res, err := v.ledger.q.db.ExecContext(ctx,
		"DELETE FROM content_contentrequest WHERE id = ? AND type = ?", id, string(v.typ))
	if err != nil {
		return fmt.Errorf("deleting request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", catalog.ErrRequestNotFound, id)
	}
	return nil
}

func scanRequest(row scanner) (model.ContentRequest, error) {
	var (
		req                 model.ContentRequest
		typ, reason, status string
		metadata            sql.NullString
	)
	err := row.Scan(&req.ID, &req.FacilityID, &req.SourceModel, &req.SourceID, &typ, &reason, &status,
		&req.ContentNodeID, &metadata, &req.RequestedAt)
	if err != nil {
		return model.ContentRequest{}, err
	}
	req.Type = model.RequestType(typ)
	req.Reason = model.RequestReason(reason)
	req.Status = model.RequestStatus(status)
	if metadata.Valid {
		req.Metadata = json.RawMessage(metadata.String)
	}
	return req, nil
}

var (
	_ catalog.RequestLedger = (*RequestLedger)(nil)
	_ catalog.RequestView   = (*RequestView)(nil)
)
