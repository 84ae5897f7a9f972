package pipeline

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/trackscout/internal/model"
)

// Merged field names. They double as provenance field names.
const (
	FieldArtistName   = "artist_name"
	FieldTrackTitle   = "track_title"
	FieldReleaseTitle = "release_title"
	FieldReleaseDate  = "release_date"
	FieldCountry      = "country"
	FieldLabel        = "label"
	FieldPublisher    = "publisher"
	FieldFollowers    = "followers"
	FieldPopularity   = "popularity"
	FieldListeners    = "listeners"
	FieldPlayCount    = "play_count"
	FieldGenres       = "genres"
	FieldPlatforms    = "platforms"
	FieldSocialLinks  = "social_links"
)

var knownFields = map[string]bool{
	FieldArtistName: true, FieldTrackTitle: true, FieldReleaseTitle: true,
	FieldReleaseDate: true, FieldCountry: true, FieldLabel: true,
	FieldPublisher: true, FieldFollowers: true, FieldPopularity: true,
	FieldListeners: true, FieldPlayCount: true, FieldGenres: true,
	FieldPlatforms: true, FieldSocialLinks: true,
}

var knownRoles = map[model.Role]bool{
	model.RoleIdentity: true, model.RoleMetadata: true, model.RolePopularity: true,
	model.RoleSupplementary: true, model.RoleChannel: true,
}

// PriorityTable declares, per merged field, the roles consulted in order.
// Scalar fields take the first non-empty value; list fields are unioned in
// this order and truncated to their cap.
type PriorityTable struct {
	Fields map[string][]model.Role `yaml:"fields"`
	Caps   ListCaps                `yaml:"caps"`
}

// ListCaps bounds the unioned list fields.
type ListCaps struct {
	Genres      int `yaml:"genres"`
	Platforms   int `yaml:"platforms"`
	SocialLinks int `yaml:"social_links"`
}

// DefaultPriorityTable returns the built-in merge priorities.
func DefaultPriorityTable() PriorityTable {
	const (
		id   = model.RoleIdentity
		meta = model.RoleMetadata
		pop  = model.RolePopularity
		supp = model.RoleSupplementary
		ch   = model.RoleChannel
	)
	return PriorityTable{
		Fields: map[string][]model.Role{
			FieldArtistName:   {pop, id, supp, meta},
			FieldTrackTitle:   {id, pop, supp},
			FieldReleaseTitle: {id, meta, pop},
			FieldReleaseDate:  {id, meta, pop},
			FieldCountry:      {id, meta, supp},
			FieldLabel:        {meta, id, pop},
			FieldPublisher:    {id, meta},
			FieldFollowers:    {pop},
			FieldPopularity:   {pop},
			FieldListeners:    {supp},
			FieldPlayCount:    {supp},
			FieldGenres:       {pop, meta, supp, id},
			FieldPlatforms:    {id, pop, meta, supp, ch},
			FieldSocialLinks:  {id, meta, pop, supp, ch},
		},
		Caps: ListCaps{Genres: 5, Platforms: 10, SocialLinks: 10},
	}
}

// Roles returns the priority list for field.
func (t PriorityTable) Roles(field string) []model.Role {
	return t.Fields[field]
}

// Validate checks that every field and role in t is known and every field
// has at least one source.
func (t PriorityTable) Validate() error {
	names := make([]string, 0, len(t.Fields))
	for f := range t.Fields {
		names = append(names, f)
	}
	sort.Strings(names)

	for _, f := range names {
		if !knownFields[f] {
			return eris.Errorf("pipeline: unknown merge field %q", f)
		}
		roles := t.Fields[f]
		if len(roles) == 0 {
			return eris.Errorf("pipeline: merge field %q has no sources", f)
		}
		for _, r := range roles {
			if !knownRoles[r] {
				return eris.Errorf("pipeline: merge field %q: unknown role %q", f, r)
			}
		}
	}
	if t.Caps.Genres < 0 || t.Caps.Platforms < 0 || t.Caps.SocialLinks < 0 {
		return eris.New("pipeline: list caps must be >= 0")
	}
	return nil
}

// LoadPriorityTable reads a priority table from a YAML file. Fields and caps
// missing from the file keep their defaults.
func LoadPriorityTable(path string) (PriorityTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PriorityTable{}, eris.Wrapf(err, "pipeline: read priority table %s", path)
	}

	// The YAML has a top-level "merge" key.
	var wrapper struct {
		Merge PriorityTable `yaml:"merge"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return PriorityTable{}, eris.Wrap(err, "pipeline: parse priority table")
	}

	t := DefaultPriorityTable()
	for f, roles := range wrapper.Merge.Fields {
		t.Fields[f] = roles
	}
	if c := wrapper.Merge.Caps.Genres; c > 0 {
		t.Caps.Genres = c
	}
	if c := wrapper.Merge.Caps.Platforms; c > 0 {
		t.Caps.Platforms = c
	}
	if c := wrapper.Merge.Caps.SocialLinks; c > 0 {
		t.Caps.SocialLinks = c
	}

	if err := t.Validate(); err != nil {
		return PriorityTable{}, err
	}
	return t, nil
}
