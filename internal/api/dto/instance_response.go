package dto

type InstancePool struct {
	Raw    int `json:"raw"`
	Tested int `json:"tested"`
	Best   int `json:"best"`
}

type Instance struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Region      string       `json:"region"`
	APIPort     int          `json:"api_port"`
	ForwardPort int          `json:"forward_port"`
	Pool        InstancePool `json:"pool"`
	LastSeen    string       `json:"last_seen,omitempty"`
	Local       bool         `json:"local"`
}

type InstanceListResponse struct {
	Instances []Instance `json:"instances"`
	Total     int        `json:"total"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
