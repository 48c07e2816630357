package model

import "time"

// Source identifies which upstream catalog a record was fetched from.
type Source string

const (
	SourceMusicBrainz  Source = "musicbrainz"
	SourceDiscogs      Source = "discogs"
	SourceAcoustID     Source = "acoustid"
	SourceFileMetadata Source = "file_metadata"
	SourceArtistInput  Source = "artist_input"
)

// EntityType classifies what kind of real-world entity a record describes.
type EntityType string

const (
	EntityRecording EntityType = "recording"
	EntityWork      EntityType = "work"
	EntityArtist    EntityType = "artist"
	EntityRelease   EntityType = "release"
)

// IdentifierField names one slot of the identifier bundle.
type IdentifierField string

const (
	FieldISRC      IdentifierField = "isrc"
	FieldISWC      IdentifierField = "iswc"
	FieldISNI      IdentifierField = "isni"
	FieldMBID      IdentifierField = "mbid"
	FieldAcoustID  IdentifierField = "acoustid"
	FieldDiscogsID IdentifierField = "discogs_id"
)

// MatchableIdentifierFields lists the bundle fields used for exact-identifier
// grouping, in priority order. DiscogsID is carried for provenance but too
// source-local to group on.
var MatchableIdentifierFields = []IdentifierField{
	FieldISRC, FieldISWC, FieldISNI, FieldMBID, FieldAcoustID,
}

// IdentifierBundle holds the standard identifiers a source may carry for an
// entity. Empty string means the source did not provide that identifier.
type IdentifierBundle struct {
	ISRC      string `json:"isrc,omitempty"`
	ISWC      string `json:"iswc,omitempty"`
	ISNI      string `json:"isni,omitempty"`
	MBID      string `json:"mbid,omitempty"`
	AcoustID  string `json:"acoustid,omitempty"`
	DiscogsID string `json:"discogs_id,omitempty"`
}

// Get returns the value of the named field, or "" if absent.
func (b IdentifierBundle) Get(field IdentifierField) string {
	switch field {
	case FieldISRC:
		return b.ISRC
	case FieldISWC:
		return b.ISWC
	case FieldISNI:
		return b.ISNI
	case FieldMBID:
		return b.MBID
	case FieldAcoustID:
		return b.AcoustID
	case FieldDiscogsID:
		return b.DiscogsID
	default:
		return ""
	}
}

// Set assigns the value of the named field. Unknown fields are ignored.
func (b *IdentifierBundle) Set(field IdentifierField, value string) {
	switch field {
	case FieldISRC:
		b.ISRC = value
	case FieldISWC:
		b.ISWC = value
	case FieldISNI:
		b.ISNI = value
	case FieldMBID:
		b.MBID = value
	case FieldAcoustID:
		b.AcoustID = value
	case FieldDiscogsID:
		b.DiscogsID = value
	}
}

// IsEmpty reports whether the bundle carries no identifiers at all.
func (b IdentifierBundle) IsEmpty() bool {
	return b == IdentifierBundle{}
}

// SourceRecord is an immutable per-source observation produced by the ETL
// layer. The engine never mutates these; missing identifiers and metadata
// must be tolerated.
type SourceRecord struct {
	Source           Source            `json:"source"`
	SourceID         string            `json:"source_id"`
	Type             EntityType        `json:"entity_type"`
	Name             string            `json:"name"`
	AltNames         []string          `json:"alt_names,omitempty"`
	Identifiers      IdentifierBundle  `json:"identifiers"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	SourceConfidence float64           `json:"source_confidence"`
	FetchedAt        time.Time         `json:"fetched_at"`
}

// Key returns the globally unique record key "source:source_id".
func (r SourceRecord) Key() string {
	return string(r.Source) + ":" + r.SourceID
}
