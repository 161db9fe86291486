// Package templates renders the portal's HTML pages.
//
// Every page is a layout plus one content file, parsed once from the
// embedded html directory. Constructors return templ.Component values so
// handlers render them with Render(ctx, w).
//
// The components are written by hand as templ.ComponentFunc adapters over
// html/template. There are no .templ sources and no generated _templ.go
// files, so `templ generate` is not part of the build.
package templates

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/mp3portal/internal/core"
)

//go:embed html/*.html
var files embed.FS

// SiteTitle is shown in the header and the browser tab.
const SiteTitle = "My Website"

var funcs = template.FuncMap{
	"siteTitle":  func() string { return SiteTitle },
	"formatSize": FormatSize,
	"join":       strings.Join,
}

var pages = map[string]*template.Template{}

func init() {
	for _, name := range []string{"home", "login", "register", "upload", "csv_import", "error"} {
		pages[name] = template.Must(template.New(name).Funcs(funcs).ParseFS(files,
			"html/layout.html",
			"html/partials.html",
			"html/"+name+".html",
		))
	}
	pages["error_alert"] = template.Must(template.New("error_alert").Funcs(funcs).ParseFS(files, "html/partials.html"))
}

// Page carries what the layout needs on every page.
type Page struct {
	Title     string
	Auth      core.AuthState
	Notices   []core.Notice
	CSRFField template.HTML
	CSRFToken string
}

// ProviderLink is a federated sign-in button.
type ProviderLink struct {
	Label string
	URL   string
}

// HomePage greets the visitor.
type HomePage struct {
	Page
}

// LoginPage is the email sign-in form.
type LoginPage struct {
	Page
	Email     string
	Errors    core.FormErrors
	Providers []ProviderLink
}

// RegisterPage is the account creation form.
type RegisterPage struct {
	Page
	Form      core.RegisterForm
	Errors    core.FormErrors
	Providers []ProviderLink
}

// UploadPage lists the staged audio previews.
type UploadPage struct {
	Page
	Entries []core.AudioPreviewEntry
	Accept  string
}

// CSVImportPage shows the import form and, for a valid file, its table.
type CSVImportPage struct {
	Page
	FileName  string
	Headers   []string
	Rows      [][]string
	RowErrors []core.RowError
	Valid     bool
}

// ErrorPage is a full-page error.
type ErrorPage struct {
	Page
	Status  int
	Message string
	Action  string
	Code    string
}

func render(name, entry string, data any) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		t, ok := pages[name]
		if !ok {
			return fmt.Errorf("unknown template %q", name)
		}
		return t.ExecuteTemplate(w, entry, data)
	})
}

// Home renders the landing page.
func Home(p HomePage) templ.Component {
	return render("home", "layout", p)
}

// Login renders the sign-in page.
func Login(p LoginPage) templ.Component {
	return render("login", "layout", p)
}

// Register renders the registration page.
func Register(p RegisterPage) templ.Component {
	return render("register", "layout", p)
}

// Upload renders the audio preview page.
func Upload(p UploadPage) templ.Component {
	return render("upload", "layout", p)
}

// CSVImport renders the CSV import page.
func CSVImport(p CSVImportPage) templ.Component {
	return render("csv_import", "layout", p)
}

// Error renders a full error page.
func Error(p ErrorPage) templ.Component {
	return render("error", "layout", p)
}

// ErrorAlert renders an inline error fragment.
func ErrorAlert(message, action, code string) templ.Component {
	return render("error_alert", "error_alert", struct {
		Message, Action, Code string
	}{message, action, code})
}

// FormatSize formats a byte count for display.
func FormatSize(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1f MB", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1f KB", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
