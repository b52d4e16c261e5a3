package presentation

import (
	"sort"

	"github.com/TechDevGroup/obs-impl/internal/record"
	"github.com/TechDevGroup/obs-impl/internal/stage"
)

// StageDTO is a persisted stage record for presentation.
type StageDTO struct {
	Name  string    `json:"name"`
	Flags []string  `json:"flags"` // always present, possibly empty
	Video *VideoDTO `json:"video,omitempty"`
	Extra []string  `json:"extra_keys,omitempty"`
}

// VideoDTO is the canvas section of a stage record.
type VideoDTO struct {
	BaseWidth    uint32 `json:"base_width"`
	BaseHeight   uint32 `json:"base_height"`
	OutputWidth  uint32 `json:"output_width"`
	OutputHeight uint32 `json:"output_height"`
	FPSNum       uint32 `json:"fps_num"`
	FPSDen       uint32 `json:"fps_den"`
}

var knownKeys = map[string]bool{
	stage.KeyName:         true,
	stage.KeyFlags:        true,
	stage.KeyBaseWidth:    true,
	stage.KeyBaseHeight:   true,
	stage.KeyOutputWidth:  true,
	stage.KeyOutputHeight: true,
	stage.KeyFPSNum:       true,
	stage.KeyFPSDen:       true,
}

// FromRecord converts a stored record. Keys the loader ignores are listed
// under Extra.
func FromRecord(rec record.Record) StageDTO {
	dto := StageDTO{
		Name:  rec.String(stage.KeyName),
		Flags: stage.Flags(rec.Int(stage.KeyFlags)).Names(),
	}
	if w, h := rec.Uint32(stage.KeyBaseWidth), rec.Uint32(stage.KeyBaseHeight); w != 0 || h != 0 {
		dto.Video = &VideoDTO{
			BaseWidth:    w,
			BaseHeight:   h,
			OutputWidth:  rec.Uint32(stage.KeyOutputWidth),
			OutputHeight: rec.Uint32(stage.KeyOutputHeight),
			FPSNum:       rec.Uint32(stage.KeyFPSNum),
			FPSDen:       rec.Uint32(stage.KeyFPSDen),
		}
	}
	for _, k := range rec.Keys() {
		if !knownKeys[k] {
			dto.Extra = append(dto.Extra, k)
		}
	}
	return dto
}

// FromRecords converts records sorted by name.
func FromRecords(recs []record.Record) []StageDTO {
	out := make([]StageDTO, 0, len(recs))
	for _, r := range recs {
		out = append(out, FromRecord(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
