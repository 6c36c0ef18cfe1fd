package image

import (
	"fmt"
	"strings"

	"storybook/internal/domain"
)

// BuildReferencePrompt asks an edit-capable model to redraw the reference
// character inside a new scene.
func BuildReferencePrompt(c domain.Character, scene, storyTitle string, page int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transform this character image into a new illustrated scene: %s.\n", strings.TrimSpace(scene))
	fmt.Fprintf(&b, "Maintain exact character appearance (facial features, hair, clothing style). Character name: %s, age %d.", c.Name, c.Age)
	if traits := joinNonEmpty(c.Personality); traits != "" {
		fmt.Fprintf(&b, " Personality traits: %s.", traits)
	}
	b.WriteString("\nStyle: High-quality whimsical children's book illustration, vibrant, warm, magical atmosphere.")
	if title := strings.TrimSpace(storyTitle); title != "" {
		fmt.Fprintf(&b, " Story title: %s.", title)
	}
	if page > 0 {
		fmt.Fprintf(&b, " Page number: %d.", page)
	}
	return b.String()
}

// BuildConsistentPrompt describes the character in words for text-only
// models, with instructions to keep the look stable across pages.
func BuildConsistentPrompt(c domain.Character, scene, storyTitle string, page int) string {
	traits := joinNonEmpty(c.Personality)
	lines := []string{
		"Create a beautiful children's book illustration in a whimsical, bright art style:",
		"",
		"MAIN CHARACTER DETAILS:",
		describeCharacter(c),
		"SCENE: " + strings.TrimSpace(scene),
		"",
		fmt.Sprintf("STORY CONTEXT: %q - Page %d", strings.TrimSpace(storyTitle), page),
		"",
		"CHARACTER CONSISTENCY REQUIREMENTS:",
		fmt.Sprintf("- Always show %s as the same person with consistent appearance", c.Name),
		fmt.Sprintf("- Age %d child with the same hair, facial features, and style throughout", c.Age),
		"- Keep the character recognizable across all story illustrations",
		fmt.Sprintf("- Show %s's personality (%s) through body language", c.Name, traits),
		"",
		"ART STYLE:",
		"- Bright, cheerful children's book illustration style",
		"- Professional quality suitable for publication",
		"- Warm, inviting colors that appeal to children",
		"- Clear, uncluttered composition focusing on the character",
		"- Magic and wonder visible in the scene",
		fmt.Sprintf("- Safe, positive imagery appropriate for age %d", c.Age),
		"",
		"TECHNICAL REQUIREMENTS:",
		"- Square format perfect for storybook pages",
		"- High-quality detailed artwork",
		"- Expressive character that children can relate to",
		fmt.Sprintf("- %s should be the clear hero/focus of the illustration", c.Name),
	}
	return strings.Join(lines, "\n")
}

// BuildPortraitPrompt asks for a standalone portrait of the character, used
// as a cover or as a reference picture when the user uploaded none.
func BuildPortraitPrompt(c domain.Character) string {
	traits := joinNonEmpty(c.Personality)
	if traits == "" {
		traits = "a brave and kind"
	}
	var b strings.Builder
	b.WriteString("Create a beautiful character portrait for a children's storybook:\n\n")
	fmt.Fprintf(&b, "- Main character: %s, a %d-year-old with %s personality\n", c.Name, c.Age, traits)
	if interests := joinNonEmpty(c.Interests); interests != "" {
		fmt.Fprintf(&b, "- Interests: %s\n", interests)
	}
	names := make([]string, 0, len(c.Siblings))
	for _, s := range c.Siblings {
		names = append(names, s.Name)
	}
	if joined := joinNonEmpty(names); joined != "" {
		fmt.Fprintf(&b, "- Family: Has loving siblings named %s\n", strings.Replace(joined, ", ", " and ", -1))
	}
	b.WriteString("\nART REQUIREMENTS:\n")
	b.WriteString("- Friendly, approachable portrait style\n")
	b.WriteString("- Bright, warm colors\n")
	b.WriteString("- Professional children's book illustration quality\n")
	fmt.Fprintf(&b, "- Age %d child should look heroic and confident\n", c.Age)
	b.WriteString("- Magical, inspiring background elements\n")
	b.WriteString("- High-quality detailed artwork\n")
	b.WriteString("- Safe, positive imagery appropriate for children")
	return b.String()
}

func describeCharacter(c domain.Character) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- Main character: %s, a %d-year-old child\n", c.Name, c.Age)
	if traits := joinNonEmpty(c.Personality); traits != "" {
		fmt.Fprintf(&b, "- Personality: %s (show these traits through expression and posture)\n", traits)
	}
	if interests := joinNonEmpty(c.Interests); interests != "" {
		fmt.Fprintf(&b, "- Interests: %s (may influence clothing or accessories)\n", interests)
	}
	if len(c.Siblings) > 0 {
		names := make([]string, 0, len(c.Siblings))
		for _, s := range c.Siblings {
			names = append(names, s.Name)
		}
		if joined := joinNonEmpty(names); joined != "" {
			fmt.Fprintf(&b, "- Family context: Has loving siblings (%s) - shows family connection\n", joined)
		}
	}
	b.WriteString("- Consistent visual traits: Same hairstyle, facial features, and general appearance in every illustration\n")
	fmt.Fprintf(&b, "- Age-appropriate appearance: Clearly shows a %d-year-old child\n", c.Age)
	fmt.Fprintf(&b, "- Heroic presence: %s should look confident, capable, and ready for adventure\n", c.Name)
	return b.String()
}

func joinNonEmpty(values []string) string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, ", ")
}
