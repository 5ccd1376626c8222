package webdav

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RemoteItem is one entry returned by PROPFIND, independent of how many
// namespace prefixes the server used to describe it.
type RemoteItem struct {
	ID          string
	Path        string
	Name        string
	IsDirectory bool
	Size        int64
	Modified    time.Time
	ETag        string
	MimeType    string
}

// responseAccumulator holds the partial fields of one <response>
// element while the event-driven parser walks its children.
type responseAccumulator struct {
	href            string
	displayName     string
	contentLength   string
	lastModified    string
	etag            string
	contentType     string
	isCollection    bool
	inResourceType  bool
	currentElement  string
}

// localName strips any namespace prefix, so servers using "d:", "D:",
// or no prefix at all interoperate.
func localName(name xml.Name) string {
	return strings.ToLower(name.Local)
}

// parseMultistatus parses a 207 multistatus response body into
// RemoteItems. Parsing is event-driven over the XML token stream so it
// never depends on a particular namespace prefix choice.
func parseMultistatus(r io.Reader, basePath string) ([]RemoteItem, error) {
	dec := xml.NewDecoder(r)

	var (
		items []RemoteItem
		acc   *responseAccumulator
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParseError, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := localName(t.Name)

			switch name {
			case "response":
				acc = &responseAccumulator{}
			case "resourcetype":
				if acc != nil {
					acc.inResourceType = true
				}
			case "collection":
				if acc != nil && acc.inResourceType {
					acc.isCollection = true
				}
			default:
				if acc != nil {
					acc.currentElement = name
				}
			}
		case xml.EndElement:
			name := localName(t.Name)

			switch name {
			case "response":
				if acc != nil {
					item, ok, convErr := acc.toRemoteItem(basePath)
					if convErr != nil {
						return nil, convErr
					}

					if ok {
						items = append(items, item)
					}
				}

				acc = nil
			case "resourcetype":
				if acc != nil {
					acc.inResourceType = false
				}
			case "propstat":
				// propstat boundaries don't reset accumulated fields: a
				// 404 propstat for unsupported props coexists with a 200
				// propstat for the ones the server did return.
			}
		case xml.CharData:
			if acc == nil || acc.currentElement == "" {
				continue
			}

			acc.setField(acc.currentElement, string(t))
		}
	}

	return items, nil
}

func (a *responseAccumulator) setField(element, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}

	switch element {
	case "href":
		a.href += value
	case "displayname":
		a.displayName += value
	case "getcontentlength":
		a.contentLength += value
	case "getlastmodified":
		a.lastModified += value
	case "getetag":
		a.etag += value
	case "getcontenttype":
		a.contentType += value
	}
}

// toRemoteItem converts an accumulated <response> into a RemoteItem. The
// second return value is false for responses with no usable href (e.g. a
// pure-404 propstat entry the caller should skip).
func (a *responseAccumulator) toRemoteItem(basePath string) (RemoteItem, bool, error) {
	if a.href == "" {
		return RemoteItem{}, false, nil
	}

	decoded, err := url.PathUnescape(a.href)
	if err != nil {
		decoded = a.href
	}

	path := normalizeHref(decoded, basePath)

	item := RemoteItem{
		ID:          path,
		Path:        path,
		Name:        a.displayName,
		IsDirectory: a.isCollection,
		ETag:        stripETagQuotes(a.etag),
		MimeType:    a.contentType,
	}

	if item.Name == "" {
		item.Name = lastPathSegment(path)
	}

	if a.contentLength != "" {
		if n, err := strconv.ParseInt(a.contentLength, 10, 64); err == nil {
			item.Size = n
		}
	}

	if a.lastModified != "" {
		if t, err := time.Parse(time.RFC1123, a.lastModified); err == nil {
			item.Modified = t.UTC()
		} else if t, err := time.Parse(time.RFC1123Z, a.lastModified); err == nil {
			item.Modified = t.UTC()
		}
	}

	return item, true, nil
}

// stripETagQuotes removes the surrounding double quotes WebDAV servers
// wrap ETags in (getetag with surrounding quotes stripped).
func stripETagQuotes(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

// normalizeHref turns a server-returned href (which may be an absolute
// URL or a path, and may or may not include basePath) into a path rooted
// at the sync base, forward-slash separated.
func normalizeHref(href, basePath string) string {
	if u, err := url.Parse(href); err == nil && u.Path != "" {
		href = u.Path
	}

	href = strings.TrimSuffix(href, "/")

	if basePath != "" && basePath != "/" {
		href = strings.TrimPrefix(href, strings.TrimSuffix(basePath, "/"))
	}

	if href == "" {
		href = "/"
	}

	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}

	return href
}

func lastPathSegment(path string) string {
	path = strings.TrimSuffix(path, "/")

	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}

	return path[idx+1:]
}
