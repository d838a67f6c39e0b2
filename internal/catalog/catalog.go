// Package catalog loads the song catalog document (seasons, celebrations,
// calendar, songs and rules) and writes it into the catalog store.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"cantor/internal/domain"
)

// Catalog is the on-disk catalog document. YAML and JSON are both accepted.
type Catalog struct {
	Seasons      []Entry       `yaml:"seasons" json:"seasons" validate:"dive"`
	SubSeasons   []Entry       `yaml:"subseasons" json:"subseasons" validate:"dive"`
	Categories   []Category    `yaml:"categories" json:"categories" validate:"dive"`
	Celebrations []Celebration `yaml:"celebrations" json:"celebrations" validate:"dive"`
	Calendar     []Day         `yaml:"calendar" json:"calendar" validate:"dive"`
	Songs        []Song        `yaml:"songs" json:"songs" validate:"dive"`
	Rules        []Rule        `yaml:"rules" json:"rules" validate:"dive"`
}

// Entry is a season or sub-season with its description.
type Entry struct {
	Code        string `yaml:"code" json:"code" validate:"required"`
	Description string `yaml:"description" json:"description,omitempty"`
}

type Category struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Description string `yaml:"description" json:"description,omitempty"`
}

type Celebration struct {
	Slug        string   `yaml:"slug" json:"slug" validate:"required"`
	Name        string   `yaml:"name" json:"name" validate:"required"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Categories  []string `yaml:"categories" json:"categories,omitempty" validate:"dive,required"`
}

type Day struct {
	Date         string   `yaml:"date" json:"date" validate:"required,datetime=2006-01-02"`
	Season       string   `yaml:"season" json:"season" validate:"required"`
	Celebrations []string `yaml:"celebrations" json:"celebrations,omitempty" validate:"dive,required"`
}

type Song struct {
	Number           int      `yaml:"number" json:"number" validate:"gt=0"`
	Title            string   `yaml:"title" json:"title" validate:"required"`
	Season           string   `yaml:"season" json:"season,omitempty"`
	Occasions        []string `yaml:"occasions" json:"occasions,omitempty" validate:"dive,required"`
	CommunionVerse   bool     `yaml:"communion_verse" json:"communion_verse,omitempty"`
	RecessionalVerse bool     `yaml:"recessional_verse" json:"recessional_verse,omitempty"`
}

// Rule binds a song, by catalog number, to a mass part under a condition.
// Priority is a tier name or number and defaults to "default"; CanBeMain
// defaults to true.
type Rule struct {
	Song      int       `yaml:"song" json:"song" validate:"gt=0"`
	Part      string    `yaml:"part" json:"part" validate:"required,masspart"`
	Condition Condition `yaml:"condition" json:"condition"`
	Priority  string    `yaml:"priority" json:"priority,omitempty" validate:"priority"`
	Exclusive bool      `yaml:"exclusive" json:"exclusive,omitempty"`
	CanBeMain *bool     `yaml:"can_be_main" json:"can_be_main,omitempty"`
}

type Condition struct {
	Kind string `yaml:"kind" json:"kind" validate:"required,conditionkind"`
	Ref  string `yaml:"ref" json:"ref" validate:"required"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("masspart", func(fl validator.FieldLevel) bool {
			_, ok := domain.ParseMassPart(fl.Field().String())
			return ok
		})
		_ = validate.RegisterValidation("conditionkind", func(fl validator.FieldLevel) bool {
			_, ok := domain.ParseConditionKind(fl.Field().String())
			return ok
		})
		_ = validate.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
			_, ok := domain.ParsePriority(fl.Field().String())
			return ok
		})
	})
	return validate
}

// ValidationError lists the fields of a catalog document that failed
// validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid catalog: " + strings.Join(e.Fields, "; ")
}

// ParseFile reads and parses a catalog document from path.
func ParseFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML or JSON catalog and validates its fields. It does not
// check cross references; see Check.
func Parse(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks field-level constraints.
func (c *Catalog) Validate() error {
	err := getValidator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate catalog: %w", err)
	}
	fields := make([]string, len(verrs))
	for i, fe := range verrs {
		fields[i] = fmt.Sprintf("%s failed %s", strings.TrimPrefix(fe.Namespace(), "Catalog."), fe.Tag())
	}
	return &ValidationError{Fields: fields}
}
