package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/TechDevGroup/obs-impl/internal/config"
	"github.com/TechDevGroup/obs-impl/internal/log"
	"github.com/TechDevGroup/obs-impl/internal/record"
)

type yamlDoc struct {
	Stages []record.Record `yaml:"stages"`
}

// YAMLFile stores records in a single YAML document, rewritten atomically on
// every change.
type YAMLFile struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*YAMLFile)(nil)

// NewYAMLFile returns a store backed by path. The file is created on the
// first write.
func NewYAMLFile(path string) *YAMLFile {
	return &YAMLFile{path: path}
}

// Path returns the backing file path.
func (s *YAMLFile) Path() string { return s.path }

func (s *YAMLFile) read() ([]record.Record, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return doc.Stages, nil
}

func (s *YAMLFile) write(recs []record.Record) error {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].String(KeyName) < recs[j].String(KeyName)
	})

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(yamlDoc{Stages: recs}); err != nil {
		return fmt.Errorf("encoding records: %w", err)
	}
	_ = enc.Close()

	if err := config.WriteFileAtomic(s.path, buf.Bytes()); err != nil {
		return err
	}
	log.Debug(log.CatStore, "Records written", "path", s.path, "count", len(recs))
	return nil
}

func (s *YAMLFile) List(_ context.Context) ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *YAMLFile) Get(_ context.Context, name string) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.read()
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.String(KeyName) == name {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (s *YAMLFile) Put(_ context.Context, rec record.Record) error {
	name, err := nameOf(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.read()
	if err != nil {
		return err
	}
	replaced := false
	for i, r := range recs {
		if r.String(KeyName) == name {
			recs[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		recs = append(recs, rec)
	}
	return s.write(recs)
}

func (s *YAMLFile) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.read()
	if err != nil {
		return err
	}
	out := recs[:0]
	for _, r := range recs {
		if r.String(KeyName) != name {
			out = append(out, r)
		}
	}
	if len(out) == len(recs) {
		return nil
	}
	return s.write(out)
}

func (s *YAMLFile) ReplaceAll(_ context.Context, recs []record.Record) error {
	for _, r := range recs {
		if _, err := nameOf(r); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(append([]record.Record(nil), recs...))
}

func (s *YAMLFile) Close() error { return nil }
