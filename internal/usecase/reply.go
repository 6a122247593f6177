package usecase

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"health-triage/internal/domain/model"
	"health-triage/internal/domain/ports/adapter"
)

// TaggedReply is the structured model output. Answer is required; the other
// sections are optional.
type TaggedReply struct {
	Answer  string
	Advice  string
	Warning string
}

var (
	tagRe      = regexp.MustCompile(`(?is)\[(ANSWER|ADVICE|WARNING)\](.*?)\[/(?:ANSWER|ADVICE|WARNING)\]`)
	strayTagRe = regexp.MustCompile(`(?i)\[/?(?:ANSWER|ADVICE|WARNING)\]`)
)

// ParseTaggedReply extracts the delimited sections. ok is false when no
// answer section is present, in which case callers use the raw output.
func ParseTaggedReply(out string) (TaggedReply, bool) {
	var r TaggedReply
	for _, m := range tagRe.FindAllStringSubmatch(out, -1) {
		body := strings.TrimSpace(m[2])
		switch strings.ToUpper(m[1]) {
		case "ANSWER":
			if r.Answer == "" {
				r.Answer = body
			}
		case "ADVICE":
			if r.Advice == "" {
				r.Advice = body
			}
		case "WARNING":
			if r.Warning == "" {
				r.Warning = body
			}
		}
	}
	return r, r.Answer != ""
}

// unstructured strips any stray tags from an output that failed to parse.
func unstructured(out string) string {
	return strings.TrimSpace(strayTagRe.ReplaceAllString(out, ""))
}

const systemPromptTmpl = `You are a careful health information assistant for people in rural India.
Reply in %s using short, simple sentences. Never give a diagnosis and never prescribe doses.
Always answer in this exact format:
[ANSWER]the direct answer[/ANSWER]
[ADVICE]one practical next step[/ADVICE]
[WARNING]when to see a doctor urgently, or leave empty[/WARNING]`

func systemPrompt(lang model.Language) string { return fmt.Sprintf(systemPromptTmpl, lang.Name()) }

// localizer renders template-bank replies in the user's language. Missing
// localisations are rendered in English and translated.
type localizer struct {
	bank      adapter.TemplateBank
	translate func(ctx context.Context, text string, to model.Language) string
}

// say renders key with language-neutral args such as names.
func (l localizer) say(ctx context.Context, lang model.Language, key string, args ...any) string {
	tmpl, native := l.bank.Template(lang, key)
	text := sprintf(tmpl, args...)
	if native || lang == model.WorkingLanguage {
		return text
	}
	return l.translate(ctx, text, lang)
}

// sayEnglish renders key with args that are English text, translating the
// whole sentence unless the user reads English.
func (l localizer) sayEnglish(ctx context.Context, lang model.Language, key string, args ...any) string {
	if lang == model.WorkingLanguage {
		tmpl, _ := l.bank.Template(lang, key)
		return sprintf(tmpl, args...)
	}
	tmpl, _ := l.bank.Template(model.WorkingLanguage, key)
	return l.translate(ctx, sprintf(tmpl, args...), lang)
}

// sayKeys renders key whose args are themselves template keys. It stays
// native only when every part is.
func (l localizer) sayKeys(ctx context.Context, lang model.Language, key string, argKeys ...string) string {
	tmpl, native := l.bank.Template(lang, key)
	args := make([]any, len(argKeys))
	for i, k := range argKeys {
		v, ok := l.bank.Template(lang, k)
		native = native && ok
		args[i] = v
	}
	if native || lang == model.WorkingLanguage {
		return sprintf(tmpl, args...)
	}
	tmpl, _ = l.bank.Template(model.WorkingLanguage, key)
	for i, k := range argKeys {
		args[i], _ = l.bank.Template(model.WorkingLanguage, k)
	}
	return l.translate(ctx, sprintf(tmpl, args...), lang)
}

// label renders a "Label: %s" template without its placeholder.
func (l localizer) label(ctx context.Context, lang model.Language, key string) string {
	tmpl, native := l.bank.Template(lang, key)
	lbl := strings.TrimSpace(strings.ReplaceAll(tmpl, "%s", ""))
	if native || lang == model.WorkingLanguage {
		return lbl
	}
	return l.translate(ctx, lbl, lang)
}

func sprintf(tmpl string, args ...any) string {
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

func renderTagged(ctx context.Context, l localizer, lang model.Language, r TaggedReply) string {
	parts := []string{r.Answer}
	if r.Advice != "" {
		parts = append(parts, l.label(ctx, lang, "advice_label")+" "+r.Advice)
	}
	if r.Warning != "" {
		parts = append(parts, l.label(ctx, lang, "warning_label")+" "+r.Warning)
	}
	return strings.Join(parts, "\n")
}

func renderResult(ctx context.Context, l localizer, lang model.Language, res model.AssessmentResult) string {
	lines := []string{l.say(ctx, lang, "result_"+string(res.Urgency))}
	if len(res.Conditions) > 0 {
		names := make([]string, 0, len(res.Conditions))
		for _, c := range res.Conditions {
			if c.Likelihood == model.LikelihoodLow {
				continue
			}
			names = append(names, fmt.Sprintf("%s (%s)", c.Name, c.Likelihood))
		}
		if len(names) > 0 {
			lines = append(lines, l.sayEnglish(ctx, lang, "result_conditions", strings.Join(names, ", ")))
		}
	}
	recs := res.Recommendations.Immediate
	if res.Urgency == model.TierHomeCare && len(res.Recommendations.HomeRemedies) > 0 {
		recs = append(append([]string(nil), recs...), res.Recommendations.HomeRemedies...)
	}
	if len(recs) > 0 {
		lines = append(lines, l.sayEnglish(ctx, lang, "result_recommendations", strings.Join(recs, "; ")))
	}
	if len(res.RedFlags) > 0 {
		lines = append(lines, l.sayEnglish(ctx, lang, "result_warnings", strings.Join(res.RedFlags, "; ")))
	}
	lines = append(lines, l.say(ctx, lang, "result_disclaimer"))
	return strings.Join(lines, "\n")
}
