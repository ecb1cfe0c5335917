package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	t.Cleanup(func() {
		if err := Init("en"); err != nil {
			t.Errorf("reset Init: %v", err)
		}
	})
	return WithLang(context.Background(), lang)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "PaperTitle"); got != "Examination Paper" {
		t.Errorf("T(PaperTitle) = %q, want 'Examination Paper'", got)
	}
	if got := T(ctx, "AnswerKeyTitle"); got != "Answer Key" {
		t.Errorf("T(AnswerKeyTitle) = %q, want 'Answer Key'", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	if got := T(ctx, "PaperTitle"); got != "Экзаменационный билет" {
		t.Errorf("T(PaperTitle) = %q, want 'Экзаменационный билет'", got)
	}
}

func TestDefaultBundleWithoutInit(t *testing.T) {
	if got := T(context.Background(), "AnswerKeyTitle"); got != "Answer Key" {
		t.Errorf("T(AnswerKeyTitle) = %q, want 'Answer Key'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	tests := []struct {
		lang  string
		count int
		want  string
	}{
		{"en", 1, "1 question"},
		{"en", 5, "5 questions"},
		{"ru", 1, "1 вопрос"},
		{"ru", 3, "3 вопроса"},
		{"ru", 5, "5 вопросов"},
	}

	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			ctx := WithLang(context.Background(), tt.lang)
			if got := Tp(ctx, "QuestionCount", tt.count); got != tt.want {
				t.Errorf("Tp(QuestionCount, %d) = %q, want %q", tt.count, got, tt.want)
			}
		})
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := WithLang(context.Background(), "en")

	got := Td(ctx, "TotalMarks", map[string]any{"Marks": 100})
	if got != "Maximum marks: 100" {
		t.Errorf("Td(TotalMarks, Marks=100) = %q, want 'Maximum marks: 100'", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := WithLang(context.Background(), "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		prefs []string
		want  string
	}{
		{[]string{"ru"}, "ru"},
		{[]string{"", "ru-RU,ru;q=0.9,en;q=0.8"}, "ru"},
		{[]string{"de-DE", "en"}, "en"},
		{[]string{"fr"}, "en"},
		{nil, "en"},
	}

	for _, tt := range tests {
		if got := Match(tt.prefs...); got != tt.want {
			t.Errorf("Match(%q) = %q, want %q", tt.prefs, got, tt.want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "AnswerKeyTitle")
	}))

	req := httptest.NewRequest(http.MethodGet, "/?lang=ru", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got != "Ключ ответов" {
		t.Errorf("translated title = %q, want 'Ключ ответов'", got)
	}
	if lang := rec.Header().Get("Content-Language"); lang != "ru" {
		t.Errorf("Content-Language = %q, want ru", lang)
	}
}
