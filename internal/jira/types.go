package jira

// DefaultIssueType is the issue type every created issue gets.
const DefaultIssueType = "Task"

// Project is a Jira project visible to the authenticated user.
type Project struct {
	ID   string `json:"id,omitempty"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// IssueDraft is the per-row request to create one issue.
type IssueDraft struct {
	ProjectKey  string `validate:"required"`
	Summary     string `validate:"required,max=255"`
	Description string
}

// CreatedIssue is Jira's reply to a successful create.
type CreatedIssue struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

type projectSearchResponse struct {
	Values     []Project `json:"values"`
	Total      int       `json:"total"`
	IsLast     bool      `json:"isLast"`
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
}

// createIssueRequest is the body of POST /rest/api/3/issue.
type createIssueRequest struct {
	Fields issueFields `json:"fields"`
}

type issueFields struct {
	Project     projectRef   `json:"project"`
	Summary     string       `json:"summary"`
	Description document     `json:"description"`
	IssueType   issueTypeRef `json:"issuetype"`
}

type projectRef struct {
	Key string `json:"key"`
}

type issueTypeRef struct {
	Name string `json:"name"`
}

// document is an Atlassian Document Format (ADF) root node.
type document struct {
	Type    string `json:"type"`
	Version int    `json:"version"`
	Content []node `json:"content"`
}

type node struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Content []node `json:"content,omitempty"`
}

// textDocument wraps plain text in a single-paragraph ADF document. ADF rejects empty
// text nodes, so empty text yields an empty paragraph.
func textDocument(text string) document {
	para := node{Type: "paragraph"}
	if text != "" {
		para.Content = []node{{Type: "text", Text: text}}
	}
	return document{Type: "doc", Version: 1, Content: []node{para}}
}

func newCreateIssueRequest(d IssueDraft) createIssueRequest {
	return createIssueRequest{
		Fields: issueFields{
			Project:     projectRef{Key: d.ProjectKey},
			Summary:     d.Summary,
			Description: textDocument(d.Description),
			IssueType:   issueTypeRef{Name: DefaultIssueType},
		},
	}
}
