package webdav

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const multistatusTemplate = `<?xml version="1.0" encoding="utf-8"?>
<%[1]smultistatus xmlns="DAV:" xmlns:d="DAV:" xmlns:D="DAV:">
  <%[1]sresponse>
    <%[1]shref>/remote.php/dav/files/user/notes.txt</%[1]shref>
    <%[1]spropstat>
      <%[1]sprop>
        <%[1]sdisplayname>notes.txt</%[1]sdisplayname>
        <%[1]sgetcontentlength>6</%[1]sgetcontentlength>
        <%[1]sgetlastmodified>Wed, 21 Oct 2015 07:28:00 GMT</%[1]sgetlastmodified>
        <%[1]sgetetag>"abc123"</%[1]sgetetag>
        <%[1]sgetcontenttype>text/plain</%[1]sgetcontenttype>
        <%[1]sresourcetype/>
      </%[1]sprop>
      <%[1]sstatus>HTTP/1.1 200 OK</%[1]sstatus>
    </%[1]spropstat>
  </%[1]sresponse>
  <%[1]sresponse>
    <%[1]shref>/remote.php/dav/files/user/sub/</%[1]shref>
    <%[1]spropstat>
      <%[1]sprop>
        <%[1]sdisplayname>sub</%[1]sdisplayname>
        <%[1]sresourcetype><%[1]scollection/></%[1]sresourcetype>
      </%[1]sprop>
      <%[1]sstatus>HTTP/1.1 200 OK</%[1]sstatus>
    </%[1]spropstat>
  </%[1]sresponse>
</%[1]smultistatus>`

func TestParseMultistatusNamespaceIndependence(t *testing.T) {
	var results [][]RemoteItem

	for _, prefix := range []string{"d:", "D:", ""} {
		body := sprintfTemplate(multistatusTemplate, prefix)

		items, err := parseMultistatus(strings.NewReader(body), "/remote.php/dav/files/user")
		require.NoError(t, err)
		require.Len(t, items, 2)

		results = append(results, items)
	}

	// Parsing yields the same RemoteItem sequence regardless of
	// namespace-prefix choice.
	for i := 1; i < len(results); i++ {
		require.Equal(t, results[0][0].Path, results[i][0].Path)
		require.Equal(t, results[0][0].Size, results[i][0].Size)
		require.Equal(t, results[0][0].ETag, results[i][0].ETag)
		require.Equal(t, results[0][1].IsDirectory, results[i][1].IsDirectory)
	}

	file := results[0][0]
	require.Equal(t, "/notes.txt", file.Path)
	require.Equal(t, int64(6), file.Size)
	require.Equal(t, "abc123", file.ETag)
	require.False(t, file.IsDirectory)

	dir := results[0][1]
	require.Equal(t, "/sub", dir.Path)
	require.True(t, dir.IsDirectory)
}

func sprintfTemplate(tmpl, prefix string) string {
	out := tmpl

	for strings.Contains(out, "%[1]s") {
		out = strings.Replace(out, "%[1]s", prefix, 1)
	}

	return out
}

func TestStripETagQuotes(t *testing.T) {
	require.Equal(t, "abc", stripETagQuotes(`"abc"`))
	require.Equal(t, "abc", stripETagQuotes(`W/"abc"`))
	require.Equal(t, "", stripETagQuotes(""))
}
