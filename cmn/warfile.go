package cmn

import (
	"path/filepath"
	"regexp"
)

// warfileRe matches the basename of a WAR file, splitting an optional
// "##version" suffix out of the context name: app1.war, app1##1.0.1.war.
var warfileRe = regexp.MustCompile(`(?i)^(?P<path>.+?)(##(?P<ver>.+))?\.war$`)

// WebArchiveRef identifies a single deployable artifact: the full context
// path as Tomcat would register it (including any ##version suffix), the
// bare path with the version stripped, and the version string itself
// (empty when the filename carries none).
type WebArchiveRef struct {
	Context string
	Path    string
	Version string
}

// ParseWarfile extracts a WebArchiveRef from a WAR filename. Both Context
// and Path are returned with a leading slash, matching Tomcat's context
// path convention. A filename without a .war extension is an
// InvalidArchive error.
func ParseWarfile(filename string) (WebArchiveRef, error) {
	base := filepath.Base(filename)
	m := warfileRe.FindStringSubmatch(base)
	if m == nil {
		return WebArchiveRef{}, NewInvalidArchive(filename)
	}
	groups := map[string]string{}
	for i, name := range warfileRe.SubexpNames() {
		if name != "" && i < len(m) {
			groups[name] = m[i]
		}
	}
	path := groups["path"]
	ver := groups["ver"]
	context := path
	if ver != "" {
		context = path + "##" + ver
	}
	return WebArchiveRef{
		Context: "/" + context,
		Path:    "/" + path,
		Version: ver,
	}, nil
}
