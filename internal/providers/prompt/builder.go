package prompt

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"reelforge/internal/domain"
)

// Builder composes the text prompts sent to the media provider from the
// job's admission-time parameters. Kept separate from the workers so prompt
// wording can evolve without touching pipeline logic.
type Builder struct {
	titler cases.Caser
}

func NewBuilder() *Builder {
	return &Builder{titler: cases.Title(language.Und)}
}

// Image builds the prompt for the image synthesis stage.
func (b *Builder) Image(params domain.JobParams) string {
	var parts []string
	if params.Prompt != "" {
		parts = append(parts, params.Prompt)
	}
	if params.Style != "" {
		parts = append(parts, fmt.Sprintf("%s style", b.titler.String(params.Style)))
	}
	if params.Locale != "" {
		parts = append(parts, fmt.Sprintf("localized for %s audiences", normalizeLocale(params.Locale)))
	}
	if len(parts) == 0 {
		return "a short-form video cover image"
	}
	return strings.Join(parts, ", ")
}

// Video builds the prompt for the video synthesis stage, animating the image
// produced earlier in the pipeline.
func (b *Builder) Video(params domain.JobParams) string {
	base := params.Prompt
	if base == "" {
		base = "the provided image"
	}
	var sb strings.Builder
	sb.WriteString("Animate into a short-form vertical video: ")
	sb.WriteString(base)
	if params.Style != "" {
		sb.WriteString(", keeping a ")
		sb.WriteString(strings.ToLower(params.Style))
		sb.WriteString(" look")
	}
	if params.DurationSeconds > 0 {
		sb.WriteString(fmt.Sprintf(", about %d seconds long", params.DurationSeconds))
	}
	return sb.String()
}

// normalizeLocale reduces a BCP 47 tag to its base language, falling back to
// the raw input when the tag does not parse.
func normalizeLocale(locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		return strings.ToLower(locale)
	}
	base, _ := tag.Base()
	return base.String()
}
