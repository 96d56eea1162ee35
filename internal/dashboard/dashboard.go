// ABOUTME: Runtime configuration served to the dashboard frontend
// ABOUTME: Derives advertised addresses and renders markdown appearance text with goldmark

package dashboard

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/2389/warden-gateway/internal/config"
)

// RuntimeConfig is the document returned by GET /config.
type RuntimeConfig struct {
	DashboardAddress    string      `json:"dashboardAddress,omitempty"`
	APIAddress          string      `json:"apiAddress,omitempty"`
	GoogleClientID      string      `json:"googleClientId,omitempty"`
	TokenRefreshAddress string      `json:"tokenRefreshAddress,omitempty"`
	LogoutAddress       string      `json:"logoutAddress,omitempty"`
	Dashboard           *Appearance `json:"dashboard,omitempty"`
}

// Appearance holds dashboard styling. Text fields are rendered HTML.
type Appearance struct {
	BackgroundColor string `json:"backgroundColor,omitempty"`
	BannerColor     string `json:"bannerColor,omitempty"`
	BannerImage     string `json:"bannerImage,omitempty"`
	InfoText        string `json:"infoText,omitempty"`
	LoginText       string `json:"loginText,omitempty"`
	FooterText      string `json:"footerText,omitempty"`
}

// newMarkdown allows inline HTML since operators may already use it in these fields.
func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
}

// Build derives the runtime configuration from cfg. It is computed once at startup.
func Build(cfg *config.Config) (*RuntimeConfig, error) {
	base := strings.TrimRight(cfg.Server.ServerAddress, "/")
	rc := &RuntimeConfig{
		DashboardAddress: cfg.Server.DashboardAddress,
		APIAddress:       cfg.Server.APIAddress,
	}
	if rc.DashboardAddress == "" {
		rc.DashboardAddress = base + "/dashboard"
	}
	if rc.APIAddress == "" {
		rc.APIAddress = base + "/api"
	}

	switch {
	case cfg.Auth.Google != nil:
		rc.GoogleClientID = cfg.Auth.Google.ClientID
	case cfg.Auth.External != nil:
		rc.TokenRefreshAddress = cfg.Auth.External.TokenRefreshAddress
		rc.LogoutAddress = cfg.Auth.External.LogoutAddress
	default:
		rc.TokenRefreshAddress = rc.APIAddress + "/auth/refresh"
		rc.LogoutAddress = rc.APIAddress + "/auth/logout"
	}

	d := cfg.Dashboard
	if d == (config.DashboardConfig{}) {
		return rc, nil
	}

	md := newMarkdown()
	rc.Dashboard = &Appearance{
		BackgroundColor: d.BackgroundColor,
		BannerColor:     d.BannerColor,
		BannerImage:     d.BannerImage,
	}
	for _, f := range []struct {
		name string
		src  string
		dst  *string
	}{
		{"info_text", d.InfoText, &rc.Dashboard.InfoText},
		{"login_text", d.LoginText, &rc.Dashboard.LoginText},
		{"footer_text", d.FooterText, &rc.Dashboard.FooterText},
	} {
		out, err := render(md, f.src)
		if err != nil {
			return nil, fmt.Errorf("rendering dashboard.%s: %w", f.name, err)
		}
		*f.dst = out
	}
	return rc, nil
}

func render(md goldmark.Markdown, src string) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
