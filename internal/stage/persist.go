package stage

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/TechDevGroup/obs-impl/internal/canvas"
	"github.com/TechDevGroup/obs-impl/internal/log"
	"github.com/TechDevGroup/obs-impl/internal/record"
	"github.com/TechDevGroup/obs-impl/internal/store"
	"github.com/TechDevGroup/obs-impl/internal/tracing"
)

// Record keys. The key set is a stable external format.
const (
	KeyName         = store.KeyName
	KeyFlags        = "flags"
	KeyBaseWidth    = "base_width"
	KeyBaseHeight   = "base_height"
	KeyOutputWidth  = "output_width"
	KeyOutputHeight = "output_height"
	KeyFPSNum       = "fps_num"
	KeyFPSDen       = "fps_den"
)

// Save serializes the stage's name, flags and current video configuration.
// Ephemeral stages return nil. Outputs are not captured.
func (s *Stage) Save() record.Record {
	if s == nil || s.flags.Has(FlagEphemeral) {
		return nil
	}
	rec := record.New()
	rec.SetString(KeyName, s.Name())
	rec.SetInt(KeyFlags, int64(s.flags))

	var vi canvas.VideoInfo
	if info, ok := s.VideoInfo(); ok {
		vi = info
	}
	rec.SetInt(KeyBaseWidth, int64(vi.BaseWidth))
	rec.SetInt(KeyBaseHeight, int64(vi.BaseHeight))
	rec.SetInt(KeyOutputWidth, int64(vi.OutputWidth))
	rec.SetInt(KeyOutputHeight, int64(vi.OutputHeight))
	rec.SetInt(KeyFPSNum, int64(vi.FPSNum))
	rec.SetInt(KeyFPSDen, int64(vi.FPSDen))
	return rec
}

// videoFromRecord returns nil when the record carries no base size.
func videoFromRecord(rec record.Record) *canvas.VideoInfo {
	vi := canvas.VideoInfo{
		BaseWidth:    rec.Uint32(KeyBaseWidth),
		BaseHeight:   rec.Uint32(KeyBaseHeight),
		OutputWidth:  rec.Uint32(KeyOutputWidth),
		OutputHeight: rec.Uint32(KeyOutputHeight),
		FPSNum:       rec.Uint32(KeyFPSNum),
		FPSDen:       rec.Uint32(KeyFPSDen),
	}
	if vi.BaseWidth == 0 && vi.BaseHeight == 0 {
		return nil
	}
	return &vi
}

// Load creates a public stage from a record. The main flag is always
// stripped, so a loaded stage is never the primary one. Unknown keys are
// ignored and missing keys default to zero.
func (c *Core) Load(rec record.Record) (*Stage, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", ErrInvalidName)
	}
	flags := Flags(rec.Int(KeyFlags)) &^ FlagMain
	return c.create(tracing.SpanStageLoad, rec.String(KeyName), videoFromRecord(rec), flags, false)
}

// SaveAll replaces the store contents with every public, non-main,
// non-ephemeral live stage.
func (c *Core) SaveAll(ctx context.Context, st store.Store) (err error) {
	_, span := tracing.Start(ctx, c.tracer, tracing.SpanCoreSaveAll)
	defer func() { tracing.Finish(span, err) }()

	var recs []record.Record
	c.EnumStages(func(s *Stage) bool {
		if s.private || s.IsMain() {
			return true
		}
		if rec := s.Save(); rec != nil {
			recs = append(recs, rec)
		}
		return true
	})
	span.SetAttributes(attribute.Int(tracing.AttrRecordCount, len(recs)))

	if err := st.ReplaceAll(ctx, recs); err != nil {
		return fmt.Errorf("saving stages: %w", err)
	}
	log.Info(log.CatStore, "Saved stages", "count", len(recs))
	return nil
}

// LoadAll creates a stage for every stored record whose name is not already
// live. The caller owns the returned references. Failures for individual
// records are joined into the error; the stages that did load are still
// returned.
func (c *Core) LoadAll(ctx context.Context, st store.Store) (_ []*Stage, err error) {
	_, span := tracing.Start(ctx, c.tracer, tracing.SpanCoreLoadAll)
	defer func() { tracing.Finish(span, err) }()

	recs, err := st.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing stages: %w", err)
	}

	var (
		loaded []*Stage
		errs   []error
	)
	for _, rec := range recs {
		name := rec.String(KeyName)
		if existing := c.StageByName(name); existing != nil {
			existing.Release()
			log.Warn(log.CatStore, "Skipping stored stage, name already live", "stage", name)
			continue
		}
		s, err := c.Load(rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("loading %q: %w", name, err))
			continue
		}
		loaded = append(loaded, s)
	}
	span.SetAttributes(attribute.Int(tracing.AttrRecordCount, len(loaded)))
	log.Info(log.CatStore, "Loaded stages", "count", len(loaded), "failed", len(errs))
	return loaded, errors.Join(errs...)
}
