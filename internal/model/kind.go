package model

import (
	"regexp"

	"github.com/rotisserie/eris"
)

// Kind is the entity kind a run harvests.
type Kind string

const (
	KindStores   Kind = "stores"
	KindProducts Kind = "products"
)

// Kinds lists every entity kind.
var Kinds = []Kind{KindStores, KindProducts}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindStores, KindProducts:
		return Kind(s), nil
	default:
		return "", eris.Errorf("model: unknown kind %q (want stores or products)", s)
	}
}

// Source identifies the retailer a record came from. It is the explicit
// discriminant carried by every record and used in table names.
type Source string

const (
	SourceCarrefour Source = "carrefour"
	SourceAhorramas Source = "ahorramas"
)

var sourceNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,30}$`)

// ParseSource validates a source name. The name ends up in table names, so
// only lower-case identifiers are accepted.
func ParseSource(s string) (Source, error) {
	if !sourceNameRe.MatchString(s) {
		return "", eris.Errorf("model: invalid source name %q", s)
	}
	return Source(s), nil
}
