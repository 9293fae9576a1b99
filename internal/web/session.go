package web

import (
	"encoding/gob"
	"net/http"
	"path/filepath"

	"github.com/gorilla/sessions"

	"github.com/joescharf/kanban/internal/dataset"
	"github.com/joescharf/kanban/internal/uploader"
)

// SessionName is the cookie name of the browser session.
const SessionName = "kanban"

const (
	keyAccessToken = "access_token"
	keyCloudID     = "cloud_id"
	keySiteName    = "site_name"
	keySiteURL     = "site_url"
	keyDataset     = "dataset"
	keySource      = "source"
	keyTitleCol    = "title_column"
	keyDescCol     = "description_column"
)

// Flash kinds.
const (
	flashSuccess = "success"
	flashError   = "error"
	flashInfo    = "info"
)

var flashKinds = []string{flashSuccess, flashInfo, flashError}

func init() {
	gob.Register(&dataset.Dataset{})
}

// NewSessionStore keeps session data in files under dir; the browser only holds the
// signed session id. Uploaded task lists are too large for a cookie.
func NewSessionStore(dir string, secret []byte) *sessions.FilesystemStore {
	st := sessions.NewFilesystemStore(filepath.Clean(dir), secret)
	st.MaxLength(0)
	st.Options.Path = "/"
	st.Options.HttpOnly = true
	st.Options.SameSite = http.SameSiteLaxMode
	st.Options.MaxAge = 86400 * 7
	return st
}

// loadSession copies the stored values into an uploader.Session.
func loadSession(gs *sessions.Session) *uploader.Session {
	str := func(key string) string {
		v, _ := gs.Values[key].(string)
		return v
	}
	sess := &uploader.Session{
		AccessToken:       str(keyAccessToken),
		CloudID:           str(keyCloudID),
		SiteName:          str(keySiteName),
		SiteURL:           str(keySiteURL),
		Source:            str(keySource),
		TitleColumn:       str(keyTitleCol),
		DescriptionColumn: str(keyDescCol),
	}
	sess.Dataset, _ = gs.Values[keyDataset].(*dataset.Dataset)
	return sess
}

// storeSession writes sess back, dropping keys for empty fields.
func storeSession(gs *sessions.Session, sess *uploader.Session) {
	set := func(key, v string) {
		if v == "" {
			delete(gs.Values, key)
			return
		}
		gs.Values[key] = v
	}
	set(keyAccessToken, sess.AccessToken)
	set(keyCloudID, sess.CloudID)
	set(keySiteName, sess.SiteName)
	set(keySiteURL, sess.SiteURL)
	set(keySource, sess.Source)
	set(keyTitleCol, sess.TitleColumn)
	set(keyDescCol, sess.DescriptionColumn)
	if sess.Dataset == nil {
		delete(gs.Values, keyDataset)
	} else {
		gs.Values[keyDataset] = sess.Dataset
	}
}

type flash struct {
	Kind    string
	Message string
}

func popFlashes(gs *sessions.Session) []flash {
	var out []flash
	for _, kind := range flashKinds {
		for _, v := range gs.Flashes(kind) {
			if msg, ok := v.(string); ok {
				out = append(out, flash{Kind: kind, Message: msg})
			}
		}
	}
	return out
}
