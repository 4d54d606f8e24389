package schema

// CreateTaskRequest asks a backend to start a scripted one-shot task.
type CreateTaskRequest struct {
	Name string `json:"name,omitempty"`
	// Steps is the number of crawl pages to simulate. Zero uses the backend default.
	Steps int `json:"steps,omitempty"`
	// Fail makes the task end with status failed.
	Fail bool `json:"fail,omitempty"`
	// Expired makes the task report a membership-expired line before failing.
	Expired bool `json:"expired,omitempty"`
}

// ListTasksResponse is returned by the task list endpoint.
type ListTasksResponse struct {
	Tasks []TaskSummary `json:"tasks"`
}

// ErrorResponse is the JSON body of a failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}
