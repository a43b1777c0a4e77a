package streams

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Streams []Stream `yaml:"streams"`
}

// LoadSeedFile reads a YAML list of streams, e.g.
//
//	streams:
//	  - slug: main-stage
//	    object_id: iq__abc
//	    library_id: ilib123
//	    title: Main Stage
//	    config:
//	      drm: clear
func LoadSeedFile(path string) ([]*Stream, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	out := make([]*Stream, 0, len(f.Streams))
	for i := range f.Streams {
		s := f.Streams[i]
		if s.Slug == "" || s.ObjectID == "" {
			return nil, fmt.Errorf("seed file %s: entry %d needs slug and object_id", path, i)
		}
		if s.Config.DRM == "" {
			s.Config.DRM = DefaultDRM
		}
		if s.Status == "" {
			s.Status = StatusUninitialized
		}
		out = append(out, &s)
	}
	return out, nil
}
