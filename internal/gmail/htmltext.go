package gmail

import (
	"strings"

	"golang.org/x/net/html"
)

// skipElements はテキスト抽出時に中身ごと無視するタグ。
var skipElements = map[string]bool{
	"script": true,
	"style":  true,
	"head":   true,
}

// extractText はHTMLから読み上げ・一覧表示用のプレーンテキストを抽出する。
// script/style/headの中身は無視し、連続する空白は1つにまとめる。
// パース不能な入力に対しては入力をそのまま返す。
func extractText(rawHTML string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(rawHTML))

	var sb strings.Builder
	var skipDepth int

	for {
		tokenType := tokenizer.Next()

		switch tokenType {
		case html.ErrorToken:
			// io.EOFを含むすべてのエラーで抽出を終了する
			return collapseWhitespace(sb.String())

		case html.StartTagToken:
			token := tokenizer.Token()
			if skipElements[token.Data] {
				skipDepth++
			}

		case html.EndTagToken:
			token := tokenizer.Token()
			if skipElements[token.Data] && skipDepth > 0 {
				skipDepth--
			}

		case html.TextToken:
			if skipDepth == 0 {
				sb.WriteString(tokenizer.Token().Data)
				sb.WriteByte(' ')
			}
		}
	}
}

// collapseWhitespace は連続する空白文字を1つのスペースにまとめる。
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
