package retrieval

import "strings"

// NoContextSentinel は検索結果が空のときにコンテキストとして使う固定文。
// 後段のプロンプト組み立てが常に決定的なテキストを受け取れるよう、
// 空文字列は返さない。
const NoContextSentinel = "No relevant context found."

// BuildContextBlock はドキュメント列からコンテキストブロックを組み立てる。
// 各ドキュメントはファイルパス（なければタイトル）、本文、docstring を
// 連結し、ドキュメント間は空行で区切る。
func BuildContextBlock(docs []*ContextDoc) string {
	if len(docs) == 0 {
		return NoContextSentinel
	}

	blocks := make([]string, 0, len(docs))
	for _, doc := range docs {
		var sb strings.Builder

		sb.WriteString("File: ")
		if doc.FilePath != nil && *doc.FilePath != "" {
			sb.WriteString(*doc.FilePath)
		} else {
			sb.WriteString(doc.Title)
		}
		sb.WriteString("\n")
		sb.WriteString(doc.Content)

		if doc.Docstring != nil && *doc.Docstring != "" {
			sb.WriteString("\n\nDocstring: ")
			sb.WriteString(*doc.Docstring)
		}

		blocks = append(blocks, sb.String())
	}

	return strings.Join(blocks, "\n\n")
}
