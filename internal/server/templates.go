package server

import (
	_ "embed"
	"html/template"
)

//go:embed templates/consent.html
var consentPageTemplateHTML string

//go:embed templates/error.html
var errorPageTemplateHTML string

var consentPageTemplate = template.Must(template.New("consent").Parse(consentPageTemplateHTML))
var errorPageTemplate = template.Must(template.New("error").Parse(errorPageTemplateHTML))

// ConsentPageData represents the data for the consent page
type ConsentPageData struct {
	ClientID         string
	ClientName       string
	RedirectURI      string
	Resource         string
	Scope            string
	ApproveURL       string
	CSRFToken        string
	PasswordRequired bool
	InvalidPassword  bool
	Hidden           []HiddenField
}

// HiddenField is an authorization parameter carried through the consent form
type HiddenField struct {
	Name  string
	Value string
}

// ErrorPageData represents the data for the error page
type ErrorPageData struct {
	Title       string
	Code        string
	Description string
}
