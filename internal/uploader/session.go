package uploader

import "github.com/joescharf/kanban/internal/dataset"

// State is the login state of a session.
type State int

const (
	StateLoggedOut State = iota
	StateLoggedIn
)

func (s State) String() string {
	switch s {
	case StateLoggedIn:
		return "logged_in"
	default:
		return "logged_out"
	}
}

// PastedSource names datasets that came from the paste form.
const PastedSource = "pasted text"

// Session is the per-browser state the controller reads and mutates. Handlers load it
// before calling the controller and save it afterwards.
type Session struct {
	AccessToken string
	CloudID     string
	SiteName    string
	SiteURL     string

	Dataset           *dataset.Dataset
	Source            string
	TitleColumn       string
	DescriptionColumn string
}

// State derives the login state from the stored credentials.
func (s *Session) State() State {
	if s.AccessToken != "" && s.CloudID != "" {
		return StateLoggedIn
	}
	return StateLoggedOut
}

// Reset clears everything, including any loaded tasks.
func (s *Session) Reset() {
	*s = Session{}
}

func (s *Session) setDataset(ds *dataset.Dataset, source, title, desc string) {
	s.Dataset = ds
	s.Source = source
	s.TitleColumn = title
	s.DescriptionColumn = desc
}
