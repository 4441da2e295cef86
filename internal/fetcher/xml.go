package fetcher

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// DecodeXMLElements decodes every element with the given local name from
// content. content must already be UTF-8 (DecodeBody has run), so a
// non-UTF-8 encoding declared in the prolog is ignored rather than decoded a
// second time.
func DecodeXMLElements[T any](content, elementName string) ([]T, error) {
	decoder := xml.NewDecoder(strings.NewReader(content))
	decoder.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	decoder.Strict = false

	var out []T
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, eris.Wrap(err, "xml: read token")
		}

		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != elementName {
			continue
		}

		var item T
		if err := decoder.DecodeElement(&item, &se); err != nil {
			return out, eris.Wrapf(err, "xml: decode <%s>", elementName)
		}
		out = append(out, item)
	}
}
