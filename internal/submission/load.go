package submission

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	yaml "go.yaml.in/yaml/v3"
)

// Load reads a submission document (YAML or JSON) and reads every file that
// references a path. Relative paths resolve against the document directory.
func Load(path string) (*Submission, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Decode(path, raw)
	if err != nil {
		return nil, err
	}
	if err := s.readFiles(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return s, nil
}

// Decode parses a document without touching the filesystem. The format is
// picked from name's extension.
func Decode(name string, raw []byte) (*Submission, error) {
	var s Submission
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("submission yaml: %w", err)
		}
		j, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("submission yaml->json: %w", err)
		}
		raw = j
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("submission json: %w", err)
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Kind == "" {
		if s.Files.Primary != nil {
			s.Kind = KindFile
		} else {
			s.Kind = KindNotification
		}
	}
	if s.Rating == "" {
		s.Rating = RatingGeneral
	}
	s.Tags = UniqueTags(s.Tags)
	return &s, nil
}

func (s *Submission) readFiles(base string) error {
	read := func(f *File) error {
		if f == nil || f.Path == "" || len(f.Data) > 0 {
			return nil
		}
		p := f.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Path, err)
		}
		f.Data = b
		f.Size = int64(len(b))
		if f.Name == "" {
			f.Name = filepath.Base(p)
		}
		if f.MimeType == "" {
			f.MimeType = mime.TypeByExtension(filepath.Ext(f.Name))
		}
		return nil
	}
	for _, f := range []*File{s.Files.Primary, s.Files.Thumbnail, s.Files.Fallback} {
		if err := read(f); err != nil {
			return err
		}
	}
	for i := range s.Files.Additional {
		if err := read(&s.Files.Additional[i]); err != nil {
			return err
		}
	}
	return nil
}
