package edgeware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

// Response is the JSON body of a rejected request
type Response struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{title}}</title>
<style>
body{font-family:'Segoe UI',Tahoma,Geneva,Verdana,sans-serif;margin:0;display:flex;justify-content:center;align-items:center;min-height:100vh;background:#f3f4f6}
.container{background:#fff;padding:40px;border-radius:10px;box-shadow:0 4px 6px rgba(0,0,0,.1);text-align:center;max-width:400px;width:90%}
h1{color:#2c3e50;font-size:24px}
p{color:#7f8c8d;line-height:1.6}
.btn{background:{{color}};color:#fff;padding:12px 30px;border-radius:25px;text-decoration:none;display:inline-block}
</style>
</head>
<body>
<div class="container">
<h1>{{title}}</h1>
<p>{{message}}</p>
<a href="{{href}}" class="btn">{{action}}</a>
</div>
</body>
</html>`

type page struct {
	title   string
	message string
	href    string
	action  string
	color   string
}

func (p page) render() string {
	return strings.NewReplacer(
		"{{title}}", p.title,
		"{{message}}", p.message,
		"{{href}}", p.href,
		"{{action}}", p.action,
		"{{color}}", p.color,
	).Replace(pageTemplate)
}

var (
	loginRequiredPage = page{
		title:   "Sign in required",
		message: "This service is for members only. Sign in to continue.",
		href:    "/login",
		action:  "Sign in",
		color:   "#22c55e",
	}.render()

	blockedPage = page{
		title:   "Direct access blocked",
		message: "This service is only available from the main page.",
		href:    "/",
		action:  "Go to main page",
		color:   "#ef4444",
	}.render()

	csrfPage = page{
		title:   "Security token required",
		message: "The request did not carry a CSRF token. Reload the page and try again.",
		href:    "javascript:location.reload()",
		action:  "Reload",
		color:   "#3498db",
	}.render()
)

// WantsHTML is true when the client prefers an HTML page
func WantsHTML(c *fiber.Ctx) bool {
	return strings.Contains(c.Get(fiber.HeaderAccept), "text/html")
}

// DefaultErrorHandler answers 401 or 403 with a fixed body, as HTML or
// JSON depending on Accept.
func DefaultErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusUnauthorized
	body := Response{Error: "Unauthorized", Message: "Sign in is required for this service."}
	html := loginRequiredPage

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryAuthz {
		status = fiber.StatusForbidden
		body = Response{Error: "Forbidden", Message: "Direct access to this service is blocked."}
		html = blockedPage
	}

	return Reject(c, status, body, html)
}

// Reject writes status with either the html page or the JSON body
func Reject(c *fiber.Ctx, status int, body Response, html string) error {
	c.Status(status)
	if WantsHTML(c) {
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.SendString(html)
	}
	return c.JSON(body)
}

// CSRFPage is the HTML body of a rejected CSRF check
func CSRFPage() string {
	return csrfPage
}
