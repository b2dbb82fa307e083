package volume

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Subject groups co-registered images under names, in insertion order.
type Subject struct {
	ID     string
	names  []string
	images map[string]*Image
}

// NewSubject creates an empty subject. An empty id is replaced by a random
// UUID so every subject can be told apart in logs.
func NewSubject(id string) *Subject {
	if id == "" {
		id = uuid.NewString()
	}
	return &Subject{ID: id, images: make(map[string]*Image)}
}

// Add registers img under name. Names must be unique within a subject.
func (s *Subject) Add(name string, img *Image) error {
	if img == nil {
		return errors.Errorf("subject %s: image %q is nil", s.ID, name)
	}
	if _, ok := s.images[name]; ok {
		return errors.Errorf("subject %s: image %q already present", s.ID, name)
	}
	s.names = append(s.names, name)
	s.images[name] = img
	return nil
}

// Image returns the image stored under name, or nil.
func (s *Subject) Image(name string) *Image {
	return s.images[name]
}

// Names returns the image names in insertion order.
func (s *Subject) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len is the number of images.
func (s *Subject) Len() int {
	return len(s.names)
}

// SpatialShape returns the shape shared by all images. It fails with
// ErrInconsistentShape if two images disagree, and when the subject is empty.
func (s *Subject) SpatialShape() (Triplet, error) {
	if len(s.names) == 0 {
		return Triplet{}, errors.Errorf("subject %s has no images", s.ID)
	}
	first := s.names[0]
	shape := s.images[first].Shape
	for _, name := range s.names[1:] {
		if other := s.images[name].Shape; other != shape {
			return Triplet{}, errors.Wrapf(ErrInconsistentShape,
				"subject %s: %q has shape %v but %q has shape %v", s.ID, first, shape, name, other)
		}
	}
	return shape, nil
}

// Crop returns a new subject holding the region loc of every image.
func (s *Subject) Crop(loc Location) (*Subject, error) {
	out := &Subject{ID: s.ID, images: make(map[string]*Image, len(s.names))}
	for _, name := range s.names {
		img, err := s.images[name].Crop(loc)
		if err != nil {
			return nil, errors.Wrapf(err, "subject %s image %q", s.ID, name)
		}
		out.names = append(out.names, name)
		out.images[name] = img
	}
	return out, nil
}

// Dataset is an ordered, randomly accessible collection of subjects.
// Subject may be slow (it can read from disk) and is called from loader
// goroutines, so implementations must be safe for concurrent use.
type Dataset interface {
	Len() int
	Subject(i int) (*Subject, error)
}

// Subjects is a Dataset backed by subjects already in memory.
type Subjects []*Subject

func (s Subjects) Len() int { return len(s) }

func (s Subjects) Subject(i int) (*Subject, error) {
	if i < 0 || i >= len(s) {
		return nil, errors.Errorf("subject index %d out of range [0, %d)", i, len(s))
	}
	return s[i], nil
}

// LoaderFunc adapts a function to the Dataset interface, for subjects that
// are materialised on demand.
type LoaderFunc struct {
	N    int
	Load func(i int) (*Subject, error)
}

func (l LoaderFunc) Len() int { return l.N }

func (l LoaderFunc) Subject(i int) (*Subject, error) {
	if i < 0 || i >= l.N {
		return nil, errors.Errorf("subject index %d out of range [0, %d)", i, l.N)
	}
	return l.Load(i)
}
