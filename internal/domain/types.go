package domain

// Credential is a user row of the credential store. A user holds exactly one active key.
type Credential struct {
	ID     int64  `json:"id"`
	APIKey string `json:"api_key"`
}

// PDFFile is the HTML source of a PDFRequest. When both fields are set, URL wins.
type PDFFile struct {
	Content string `json:"content"`
	URL     string `json:"url"`
}

// PDFRequest is the body of POST /api/pdf/create.
type PDFRequest struct {
	File PDFFile        `json:"file"`
	Vars map[string]any `json:"vars"`
	Name string         `json:"name"`
}

// PDFResponse is the success body of POST /api/pdf/create.
type PDFResponse struct {
	PDFURL string `json:"pdfUrl"`
}

// APIKeyResponse is the success body of POST /generate-api-key.
type APIKeyResponse struct {
	APIKey string `json:"apiKey"`
}
