package ui

import (
	"fmt"
	"strings"
	"time"

	. "maragu.dev/gomponents"
	data "maragu.dev/gomponents-datastar"
	. "maragu.dev/gomponents/html"

	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/middleware"
)

type navItem struct {
	Label string
	Href  string
	Key   string
}

var navItems = []navItem{
	{Label: "Overview", Href: "/ui", Key: "home"},
	{Label: "Pipelines", Href: "/ui/pipelines", Key: "pipelines"},
	{Label: "Executions", Href: "/ui/executions", Key: "executions"},
}

func pageHead(title string, extra ...Node) Node {
	return Head(
		Meta(Charset("utf-8")),
		Meta(Name("viewport"), Content("width=device-width, initial-scale=1")),
		TitleEl(Text(title+" | ETL Console")),
		Link(Rel("icon"), Href("data:,")),
		Link(Rel("stylesheet"), Href("/ui/static/app.css")),
		Group(extra),
	)
}

func appPage(title, active string, principal middleware.Principal, body ...Node) Node {
	nav := make([]Node, 0, len(navItems))
	for _, item := range navItems {
		className := "app-nav-link"
		if item.Key == active {
			className += " active"
		}
		nav = append(nav, A(Href(item.Href), Class(className), Text(item.Label)))
	}

	return HTML(
		Lang("en"),
		pageHead(title,
			Script(
				Type("module"),
				Src("https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0-RC.7/bundles/datastar.js"),
			),
		),
		Body(
			Main(Class("app-shell"),
				Aside(
					Class("app-sidebar"),
					Strong(Text("ETL Orchestrator")),
					P(Class(mutedClass()), Text("Runs, executions and pipeline plan")),
					Nav(Class("app-nav"), Group(nav)),
				),
				Section(
					Class("app-main"),
					Div(
						Class("topbar"),
						H1(Text(title)),
						Div(
							P(Class(mutedClass()), Text("Signed in as "+principal.Name)),
							Form(Method("post"), Action("/ui/logout"),
								Button(Type("submit"), Class("btn"), Text("Sign out"))),
						),
					),
					Group(body),
				),
			),
		),
	)
}

func errorPage(title, message string) Node {
	return HTML(
		Lang("en"),
		pageHead(title),
		Body(
			Main(
				Class("login-wrap"),
				H1(Text(title)),
				P(Text(message)),
				P(A(Href("/ui"), Text("Back to overview"))),
			),
		),
	)
}

func loginPage(errMsg string) Node {
	content := []Node{
		H1(Text("ETL Orchestrator")),
		P(Text("Sign in with a JWT issued for the orchestrator API.")),
		Form(
			Method("post"),
			Action("/ui/login"),
			Class("login-form"),
			Label(Text("Token")),
			Textarea(Name("token"), Placeholder("Paste token here"), Required()),
			Button(Type("submit"), Class("btn btn-primary"), Text("Sign In")),
		),
	}
	if errMsg != "" {
		content = append([]Node{P(Class("error"), Text(fmt.Sprintf("Error: %s", errMsg)))}, content...)
	}
	return HTML(Lang("en"), pageHead("Sign in"), Body(Main(Class("login-wrap"), Group(content))))
}

func cardClass(extra ...string) string {
	return strings.Join(append([]string{"card"}, extra...), " ")
}

func mutedClass() string {
	return "muted"
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Format(time.RFC3339)
}

func formatTimePtr(ts *time.Time) string {
	if ts == nil {
		return "-"
	}
	return formatTime(*ts)
}

func stringPtr(v *string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return "-"
	}
	return *v
}

func orDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}

// statusTone maps run and execution statuses to label colours.
func statusTone(status string) string {
	switch status {
	case domain.ExecutionStatusSuccess:
		return "success"
	case domain.ExecutionStatusFailed, domain.RunStatusCancelled:
		return "danger"
	case domain.ExecutionStatusRunning, domain.ExecutionStatusSkipped:
		return "attention"
	default:
		return ""
	}
}

func statusLabel(status string) Node {
	className := "Label"
	if tone := statusTone(status); tone != "" {
		className += " Label--" + tone
	}
	return Span(Class(className), Text(status))
}

func containsExpr(value string) string {
	return fmt.Sprintf("$q === '' || %q.includes($q.toLowerCase())", strings.ToLower(value))
}

func quickFilter(placeholder string) Node {
	return Div(
		Class(cardClass()),
		Label(Class(mutedClass()), Text("Quick filter ")),
		Input(Type("search"), Placeholder(placeholder), data.Bind("q"), AutoComplete("off")),
	)
}

func emptyState(message string) Node {
	return Div(Class(cardClass()), P(Class(mutedClass()), Text(message)))
}

func table(headers []string, rows []Node) Node {
	ths := make([]Node, 0, len(headers))
	for _, h := range headers {
		ths = append(ths, Th(Text(h)))
	}
	return Table(THead(Tr(Group(ths))), TBody(Group(rows)))
}

func paginationCard(basePath, query string, page domain.PageRequest, total int64) Node {
	nextToken := domain.NextPageToken(page.Offset(), page.Limit(), total)
	if nextToken == "" {
		return P(Class(mutedClass()), Text(fmt.Sprintf("%d entries.", total)))
	}
	url := fmt.Sprintf("%s?%smax_results=%d&page_token=%s", basePath, query, page.Limit(), nextToken)
	return P(
		Class(mutedClass()),
		Text(fmt.Sprintf("Showing up to %d of %d entries. ", page.Limit(), total)),
		A(Href(url), Text("Next page ->")),
	)
}
