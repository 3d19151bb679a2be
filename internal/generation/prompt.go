package generation

import (
	"fmt"
	"strings"

	"github.com/and161185/virtual-atelier/internal/model"
)

const (
	defaultPosePhrase  = "holding an iPhone taking a selfie in front of a mirror"
	defaultThemePhrase = "modern"
)

// PromptInput is the resolved, text-only input of one variation.
type PromptInput struct {
	Gender         model.Gender
	ThemeLabel     string
	PosePrompt     string
	Description    string
	AspectRatio    model.AspectRatio
	VariationIndex int
}

// BuildPrompt renders the photograph description sent to the backend.
// The output is a pure function of in; the variation number keeps parallel requests distinct.
func BuildPrompt(in PromptInput) string {
	subject := "male"
	physique := "The model has a stylish side part hairstyle, a fit tall physique with 6-pack abs and broad shoulders."
	if in.Gender == model.GenderFemale {
		subject = "female"
		physique = "The model has long flowing hair, a beautiful tall physique with balanced curves."
	}
	pose := strings.TrimSpace(in.PosePrompt)
	if pose == "" {
		pose = defaultPosePhrase
	}
	theme := strings.TrimSpace(in.ThemeLabel)
	if theme == "" {
		theme = defaultThemePhrase
	}
	ratio := in.AspectRatio
	if ratio == "" {
		ratio = model.DefaultAspectRatio
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A high-quality, professional fashion photograph of a %s Vietnamese model, approximately 20 years old, looking young and energetic.\n", subject)
	fmt.Fprintf(&b, "The model is %s.\n", pose)
	b.WriteString("The model is wearing the exact clothing shown in the provided product image.\n")
	b.WriteString(physique + "\n")
	fmt.Fprintf(&b, "The setting is a %s environment.\n", theme)
	if d := strings.TrimSpace(in.Description); d != "" {
		fmt.Fprintf(&b, "Additional context: %s\n", d)
	}
	fmt.Fprintf(&b, "The output must be a realistic, high-resolution image with a %s aspect ratio. (Variation %d)", ratio, in.VariationIndex+1)
	return b.String()
}
