package types

// CorpusEntry is the normalized, task-augmented output record for one issue.
// Entries are serialized one per line in the corpus output.
type CorpusEntry struct {
	Metadata    Metadata        `json:"metadata"`
	Description string          `json:"description"`
	Comments    []CorpusComment `json:"comments"`
	Tasks       Tasks           `json:"tasks"`
}

// Metadata carries the issue fields preserved alongside the derived tasks.
type Metadata struct {
	IssueKey   string `json:"issue_key"`
	Project    string `json:"project"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Priority   string `json:"priority"`
	Reporter   string `json:"reporter"`
	Assignee   string `json:"assignee,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Created    string `json:"created"`
	Updated    string `json:"updated"`
}

// CorpusComment is a cleaned comment included in the corpus entry.
type CorpusComment struct {
	Author  string `json:"author"`
	Body    string `json:"body"`
	Created string `json:"created"`
}

// Tasks holds the derived sub-task payloads, keyed by task name in the
// serialized form.
type Tasks struct {
	Summarization  TextTask `json:"summarization"`
	Classification TextTask `json:"classification"`
	QA             QATask   `json:"qa"`
}

// TextTask is an input/output training pair.
type TextTask struct {
	Task   string `json:"task"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

// QATask is a question-answering training sample with supporting context.
type QATask struct {
	Task     string `json:"task"`
	Question string `json:"question"`
	Context  string `json:"context"`
	Answer   string `json:"answer"`
}
