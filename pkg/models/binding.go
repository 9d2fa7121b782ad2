package models

// URLBindingChange records a listen URL before and after it was rebound
type URLBindingChange struct {
	OriginalURL string `json:"original_url" yaml:"original_url"`
	NewURL      string `json:"new_url" yaml:"new_url"`
}
