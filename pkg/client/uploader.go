package client

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/osmedit/osmedit/pkg/core"
	"github.com/osmedit/osmedit/pkg/ledger"
	"github.com/osmedit/osmedit/pkg/osm"
	"github.com/osmedit/osmedit/pkg/osmxml"
	"github.com/osmedit/osmedit/pkg/tracing"
)

// Uploader drives the full upload sequence: partition the pending set,
// open a changeset, stamp and post the document, reconcile the ledger from
// the server's diff, and close the changeset.
type Uploader struct {
	api    *Client
	ledger *ledger.Ledger
	logger *slog.Logger
}

// NewUploader wires an uploader over an API client and a ledger.
func NewUploader(api *Client, l *ledger.Ledger, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{api: api, ledger: l, logger: logger}
}

// UploadResult summarizes a completed upload.
type UploadResult struct {
	ChangesetID int64
	Created     int
	Modified    int
	Deleted     int
	// AssignedIDs maps synthetic ids to the ids the server assigned.
	AssignedIDs map[int64]int64
}

// Upload sends every pending edit and deletion in one changeset. With an
// empty pending set it fails fast with core.ErrNothingToSend before any
// network traffic. If the server rejects the document the changeset is
// left open and its id is reported in the error; the server expires open
// changesets on its own.
func (u *Uploader) Upload(ctx context.Context, comment string) (*UploadResult, error) {
	ctx, span := tracing.StartSpan(ctx, "uploader.upload")
	defer span.End()

	plan := osm.PartitionEdits(u.ledger.Edits(), u.ledger.Deletes())
	if plan.Empty() {
		span.SetStatus(codes.Error, "nothing to send")
		return nil, core.ErrNothingToSend
	}
	creates, modifies, deletes := plan.Counts()
	span.SetAttributes(
		attribute.Int(tracing.AttrChangesetCreates, creates),
		attribute.Int(tracing.AttrChangesetModify, modifies),
		attribute.Int(tracing.AttrChangesetDeletes, deletes),
	)

	changesetID, err := u.api.OpenChangeset(ctx, comment)
	if err != nil {
		return nil, fmt.Errorf("opening changeset: %w", err)
	}
	u.logger.Info("changeset opened",
		"changeset", changesetID,
		"creates", creates,
		"modifies", modifies,
		"deletes", deletes)

	plan.Stamp(changesetID)

	entries, err := u.api.UploadChangeset(ctx, changesetID, plan)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("uploading changeset %d: %w", changesetID, err)
	}

	result := u.reconcile(changesetID, plan, entries)

	// Close failures are advisory: the edits are already committed.
	if err := u.api.CloseChangeset(ctx, changesetID); err != nil {
		u.logger.Warn("closing changeset failed",
			"changeset", changesetID, "error", err)
	}

	u.logger.Info("upload complete",
		"changeset", changesetID,
		"created", result.Created,
		"modified", result.Modified,
		"deleted", result.Deleted)
	return result, nil
}

// reconcile clears acknowledged objects out of the ledger. Only objects the
// server explicitly confirmed are removed, so a partial acknowledgment
// leaves the unconfirmed remainder pending for the next attempt.
func (u *Uploader) reconcile(changesetID int64, plan osm.ChangePlan, entries []osmxml.DiffEntry) *UploadResult {
	result := &UploadResult{
		ChangesetID: changesetID,
		AssignedIDs: make(map[int64]int64),
	}

	deleted := make(map[osm.Ref]bool, len(plan.Delete))
	for _, o := range plan.Delete {
		deleted[o.Ref()] = true
	}

	for _, e := range entries {
		ref := osm.Ref{Type: e.Type, ID: e.OldID}
		if err := u.ledger.Remove(ref); err != nil {
			u.logger.Error("reconciling ledger entry",
				"ref", ref.String(), "error", err)
			continue
		}
		switch {
		case deleted[ref]:
			result.Deleted++
		case e.OldID < 0:
			result.Created++
			result.AssignedIDs[e.OldID] = e.NewID
		default:
			result.Modified++
		}
	}

	if remaining := u.ledger.Len(); remaining > 0 {
		u.logger.Warn("server did not acknowledge all objects",
			"changeset", changesetID, "remaining", remaining)
	}
	return result
}
