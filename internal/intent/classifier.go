// Package intent は発話テキストのインテント分類を提供する。
// 固定のフレーズリストに対する部分文字列マッチで、発話を高々1つの
// カテゴリに分類する。状態を持たず、同一入力に対して常に同一結果を返す。
package intent

import "strings"

// Intent は発話の分類カテゴリを表す。
type Intent string

const (
	// IntentPhoto は写真撮影の指示。
	IntentPhoto Intent = "photo"
	// IntentShopping はショッピングセッションの開始指示。
	IntentShopping Intent = "shopping"
	// IntentCalendar はカレンダー参照・予定作成の指示。
	IntentCalendar Intent = "calendar"
	// IntentEmail はメール参照・送信の指示。
	IntentEmail Intent = "email"
	// IntentNone はどのカテゴリにもマッチしなかったことを示す。
	IntentNone Intent = "none"
)

// rule は1カテゴリ分のフレーズリスト。
type rule struct {
	intent  Intent
	phrases []string
}

// Classifier は正規化済みテキストをインテントに分類する。
// 評価順序は固定（photo → shopping → calendar → email）で、
// 先に評価されるカテゴリがマッチした時点で後続の評価を打ち切る。
// 複数カテゴリのフレーズを含む発話は常に先頭側のカテゴリに解決される。
type Classifier struct {
	rules []rule
}

// NewClassifier は既定のフレーズリストを持つClassifierを生成する。
func NewClassifier() *Classifier {
	return &Classifier{
		rules: []rule{
			{
				intent: IntentPhoto,
				phrases: []string{
					"take a photo",
					"take a picture",
					"snap a photo",
					"capture this",
					"写真を撮って",
					"写真とって",
				},
			},
			{
				intent: IntentShopping,
				phrases: []string{
					"buy this",
					"shopping",
					"purchase",
					"add to cart",
					"買い物",
					"購入して",
				},
			},
			{
				intent: IntentCalendar,
				phrases: []string{
					"schedule",
					"calendar",
					"meeting",
					"appointment",
					"予定",
					"カレンダー",
				},
			},
			{
				intent: IntentEmail,
				phrases: []string{
					"email",
					"e-mail",
					"inbox",
					"unread messages",
					"メール",
					"受信トレイ",
				},
			},
		},
	}
}

// Classify は正規化済みテキストを分類し、マッチしたカテゴリを1つ返す。
// どのフレーズにもマッチしない場合はIntentNoneを返す。
// 入力はNormalizeで正規化済みであることを前提とする。
func (c *Classifier) Classify(text string) Intent {
	if text == "" {
		return IntentNone
	}
	for _, r := range c.rules {
		for _, phrase := range r.phrases {
			if strings.Contains(text, phrase) {
				return r.intent
			}
		}
	}
	return IntentNone
}

// Normalize は発話テキストを分類用に正規化する（小文字化と前後空白の除去）。
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
