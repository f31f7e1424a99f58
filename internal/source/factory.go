package source

import (
	"fmt"

	"github.com/bryanchriswhite/framecompositor/internal/compositor"
	"github.com/bryanchriswhite/framecompositor/internal/config"
)

// FromConfig builds the source described by a track entry. Frames are
// produced at width x height.
func FromConfig(track config.TrackConfig, width, height int) (Source, error) {
	switch track.Type {
	case config.TrackTypePattern:
		return NewPattern(track.Name, width, height), nil
	case config.TrackTypeImages:
		return NewImageSequence(track.Path, track.FPS, width, height), nil
	case config.TrackTypeSolid:
		hex := track.Color
		if hex == "" {
			hex = "#000000"
		}
		c, err := config.ParseColor(hex)
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", track.ID, err)
		}
		return NewSolid(c, width, height), nil
	case config.TrackTypeScreen:
		return NewScreen(width, height), nil
	default:
		return nil, fmt.Errorf("track %d: unknown type %q", track.ID, track.Type)
	}
}

// RouterFromConfig registers a source for every configured track
func RouterFromConfig(tracks []config.TrackConfig, width, height int) (*Router, error) {
	r := NewRouter()
	for _, t := range tracks {
		src, err := FromConfig(t, width, height)
		if err != nil {
			return nil, err
		}
		if err := r.Add(compositor.TrackID(t.ID), src); err != nil {
			return nil, err
		}
	}
	return r, nil
}
