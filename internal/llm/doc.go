// Package llm defines the decision backend used by the supervisor, the email
// drafter and the tool-using workers. Provider packages (openai, pythonbridge)
// turn a Request into provider calls and hand back the raw text; parsing the
// text into routing decisions happens in package extract.
package llm
