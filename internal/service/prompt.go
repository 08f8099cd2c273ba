package service

import "strings"

// BuildPrompt returns the generation prompt for a location. The region line is
// omitted when region is empty.
func BuildPrompt(city, region string) string {
	var b strings.Builder
	b.WriteString("以下の日本の地点について、魅力的な紹介文を書いてください。**紹介文のみ出力すること。**：\n\n")
	b.WriteString("地点: " + city + "\n")
	if region != "" {
		b.WriteString("地域: " + region + "\n")
	}
	b.WriteString("\n簡潔な紹介文（200文字以内）\n\n")
	b.WriteString("回答は日本語で、自然で魅力的な文章にしてください。観光地として紹介するようなトーンで書いてください。避暑地としての魅力があれば含めてください。\n\n")
	b.WriteString("例:\n「美しい自然に囲まれた○○は、○○地方の代表的な観光地です。○○の特徴として○○が挙げられ、○○の○○として知られています。」")
	return b.String()
}
