// Package processor renders profile entities and stores their snapshots.
package processor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/decentraland/profile-images/internal/contracts"
	"github.com/decentraland/profile-images/pkg/catalyst"
)

const pngContentType = "image/png"

// Processor drives the renderer, uploads the images and keeps the ledger
type Processor struct {
	renderer contracts.Renderer
	storage  contracts.BlobStorage
	ledger   contracts.Ledger
	prefix   string
	logger   zerolog.Logger
}

// New creates a processor. ledger may be nil, which disables skipping of
// already rendered entities.
func New(renderer contracts.Renderer, storage contracts.BlobStorage, ledger contracts.Ledger, prefix string, logger zerolog.Logger) *Processor {
	return &Processor{
		renderer: renderer,
		storage:  storage,
		ledger:   ledger,
		prefix:   prefix,
		logger:   logger.With().Str("component", "processor").Logger(),
	}
}

var _ contracts.ImageProcessor = (*Processor)(nil)

// FaceKey returns the storage key of the face snapshot of an entity
func (p *Processor) FaceKey(entityID string) string {
	return p.prefix + "entities/" + entityID + "/face.png"
}

// BodyKey returns the storage key of the body snapshot of an entity
func (p *Processor) BodyKey(entityID string) string {
	return p.prefix + "entities/" + entityID + "/body.png"
}

// ProcessEntities returns one result per entity. Render failures in a batch
// of several avatars are retryable so they get a second chance on their own;
// a failing single avatar is final unless the error is transient. An error is
// returned only when every upload failed.
func (p *Processor) ProcessEntities(ctx context.Context, entities []catalyst.Entity) ([]contracts.ProcessingResult, error) {
	results := make([]contracts.ProcessingResult, 0, len(entities))
	pending := make([]contracts.ExtendedAvatar, 0, len(entities))
	timestamps := make(map[string]int64, len(entities))

	for _, entity := range entities {
		if !catalyst.ValidEntityID(entity.ID) {
			p.logger.Warn().Str("entity_id", entity.ID).Msg("Refusing entity with unsafe id")
			results = append(results, contracts.ProcessingResult{Entity: entity.ID, Error: "invalid entity id"})
			continue
		}

		avatar, ok := entity.Metadata.FirstAvatar()
		if !ok {
			results = append(results, p.fail(ctx, entity.ID, catalyst.AvatarDescriptor{}, "entity has no avatar", false))
			continue
		}

		if p.alreadyRendered(ctx, entity) {
			p.logger.Debug().Str("entity_id", entity.ID).Msg("Snapshot already up to date")
			results = append(results, contracts.ProcessingResult{Entity: entity.ID, Success: true, Avatar: avatar})
			continue
		}

		pending = append(pending, contracts.ExtendedAvatar{Entity: entity.ID, Avatar: avatar})
		timestamps[entity.ID] = entity.Timestamp
	}

	if len(pending) == 0 {
		return results, nil
	}

	retryOnFailure := len(pending) > 1

	outputs, err := p.renderer.Render(ctx, pending)
	if err != nil {
		retry := retryOnFailure || contracts.IsTransient(err)
		p.logger.Warn().
			Err(err).
			Int("avatars", len(pending)).
			Bool("should_retry", retry).
			Msg("Render failed for batch")
		for _, a := range pending {
			results = append(results, p.fail(ctx, a.Entity, a.Avatar, err.Error(), retry))
		}
		return results, nil
	}

	byEntity := make(map[string]contracts.RenderOutput, len(outputs))
	for _, out := range outputs {
		byEntity[out.Entity] = out
	}

	var uploads, uploadFailures int
	var lastUploadErr error

	for _, a := range pending {
		out, ok := byEntity[a.Entity]
		if !ok {
			results = append(results, p.fail(ctx, a.Entity, a.Avatar, "renderer returned no output", retryOnFailure))
			continue
		}
		if out.Err != nil {
			retry := retryOnFailure || contracts.IsTransient(out.Err)
			results = append(results, p.fail(ctx, a.Entity, a.Avatar, out.Err.Error(), retry))
			continue
		}

		uploads++
		if err := p.upload(ctx, out); err != nil {
			uploadFailures++
			lastUploadErr = err
			p.logger.Warn().Err(err).Str("entity_id", a.Entity).Msg("Failed to upload snapshot")
			results = append(results, contracts.ProcessingResult{
				Entity:      a.Entity,
				ShouldRetry: true,
				Error:       err.Error(),
				Avatar:      a.Avatar,
			})
			continue
		}

		if p.ledger != nil {
			if err := p.ledger.MarkRendered(ctx, a.Entity, timestamps[a.Entity]); err != nil {
				p.logger.Warn().Err(err).Str("entity_id", a.Entity).Msg("Failed to record snapshot")
			}
		}
		results = append(results, contracts.ProcessingResult{Entity: a.Entity, Success: true, Avatar: a.Avatar})
	}

	if uploads > 0 && uploadFailures == uploads {
		return nil, fmt.Errorf("failed to upload %d snapshots: %w", uploadFailures, lastUploadErr)
	}

	return results, nil
}

func (p *Processor) upload(ctx context.Context, out contracts.RenderOutput) error {
	if err := p.storage.Store(ctx, p.FaceKey(out.Entity), out.Face, pngContentType); err != nil {
		return fmt.Errorf("store face: %w", err)
	}
	if err := p.storage.Store(ctx, p.BodyKey(out.Entity), out.Body, pngContentType); err != nil {
		return fmt.Errorf("store body: %w", err)
	}
	return nil
}

func (p *Processor) alreadyRendered(ctx context.Context, entity catalyst.Entity) bool {
	if p.ledger == nil {
		return false
	}
	rendered, err := p.ledger.IsRendered(ctx, entity.ID, entity.Timestamp)
	if err != nil {
		p.logger.Warn().Err(err).Str("entity_id", entity.ID).Msg("Failed to check snapshot ledger")
		return false
	}
	return rendered
}

// fail builds a failed result and records final failures in the ledger
func (p *Processor) fail(ctx context.Context, entityID string, avatar catalyst.AvatarDescriptor, reason string, retry bool) contracts.ProcessingResult {
	if !retry && p.ledger != nil {
		if err := p.ledger.MarkFailed(ctx, entityID, reason); err != nil {
			p.logger.Warn().Err(err).Str("entity_id", entityID).Msg("Failed to record render failure")
		}
	}
	return contracts.ProcessingResult{
		Entity:      entityID,
		ShouldRetry: retry,
		Error:       reason,
		Avatar:      avatar,
	}
}
