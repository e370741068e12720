package cortex

import (
	"context"
	"fmt"
	"path/filepath"
)

// RegisterFileWorkflows registers the built-in file workflow types:
// drop_and_read, intelligent_archive, summarize_tag, and
// translate_document. The ingestor extracts file content for the reading
// workflows; the executor carries the host-side side effects
// ("archive_file", "write_file"). These are the workflows a host gets
// without writing any declarative configuration.
func RegisterFileWorkflows(reg *Registry, ingestor FileIngestor, executor SystemActionExecutor) error {
	builders := []func(FileIngestor, SystemActionExecutor) *WorkflowDefinition{
		dropAndReadDefinition,
		intelligentArchiveDefinition,
		summarizeTagDefinition,
		translateDocumentDefinition,
	}
	for _, build := range builders {
		if err := reg.Register(build(ingestor, executor)); err != nil {
			return err
		}
	}
	return nil
}

// dropAndReadDefinition reads a dropped file and completes with the
// extracted content. The completing result carries review data (name,
// preview, full content) so the LLM can narrate the content to the user
// before the session ends at the cycle boundary.
func dropAndReadDefinition(ingestor FileIngestor, _ SystemActionExecutor) *WorkflowDefinition {
	read := NewProcessingStep("execute_read", "read the selected file and finish",
		func(_ context.Context, wc *Context, sid string) StepResult {
			path := stringData(wc, sid, "current_file_path")
			content := stringData(wc, sid, "current_file_path_content")
			res := CompleteWorkflow(
				fmt.Sprintf("read %s (%d characters)", displayPath(path), len(content)),
				map[string]any{"file_path": path, "content": content},
			)
			res.LLMReviewData = map[string]any{
				"action":          "file_read_completed",
				"file_name":       filepath.Base(path),
				"file_path":       path,
				"content_preview": preview(content, 500),
				"content_length":  len(content),
				"full_content":    content,
			}
			return res
		}, WithRequirements("current_file_path"))

	return &WorkflowDefinition{
		WorkflowType:          "drop_and_read",
		Name:                  "Read a dropped file",
		Description:           "Read the file's content and hand it to the assistant",
		Mode:                  ModeDirect,
		RequiresLLMReview:     true,
		AutoAdvanceOnApproval: true,
		Steps: map[string]Step{
			"file_path_input": NewFileSelectionStep("file_path_input", "select the file to read",
				"Which file should I read?", "current_file_path", true, ingestor),
			"execute_read": read,
		},
		Transitions: map[string][]Transition{
			"file_path_input": {{To: "execute_read"}},
			"execute_read":    {{To: EndStep}},
		},
		EntryPoint: "file_path_input",
		InitialParams: map[string]InitialParam{
			"current_file_path": {MapsToStep: "file_path_input"},
		},
	}
}

// intelligentArchiveDefinition moves a file into a target folder, with the
// folder optional (empty means "pick one for me") and a confirmation gate
// before the move.
func intelligentArchiveDefinition(_ FileIngestor, executor SystemActionExecutor) *WorkflowDefinition {
	return &WorkflowDefinition{
		WorkflowType:          "intelligent_archive",
		Name:                  "Archive a file",
		Description:           "Move a file into the right folder, confirmed first",
		Mode:                  ModeDirect,
		AutoAdvanceOnApproval: true,
		Steps: map[string]Step{
			"file_path_input": NewFileSelectionStep("file_path_input", "select the file to archive",
				"Which file should I archive?", "current_file_path", true, nil),
			"target_dir_input": NewInputStep("target_dir_input", "collect the target folder",
				"Where should it go? (empty lets me decide)", "target_dir", SkipIfDataExists()),
			"confirm_archive": NewConfirmationStep("confirm_archive", "confirm the move",
				"Move the file now?", true),
			"execute_archive": NewSystemStep("execute_archive", "move the file", executor,
				"archive_file", []string{"current_file_path", "target_dir"}, "archived_path"),
		},
		Transitions: map[string][]Transition{
			"file_path_input":  {{To: "target_dir_input"}},
			"target_dir_input": {{To: "confirm_archive"}},
			"confirm_archive":  {{To: "execute_archive"}},
			"execute_archive":  {{To: EndStep}},
		},
		EntryPoint: "file_path_input",
		InitialParams: map[string]InitialParam{
			"current_file_path": {MapsToStep: "file_path_input"},
			"target_dir":        {MapsToStep: "target_dir_input"},
		},
	}
}

// summarizeTagDefinition reads a file, has the external LLM produce a
// summary with tags, and writes the summary back next to the original.
func summarizeTagDefinition(ingestor FileIngestor, executor SystemActionExecutor) *WorkflowDefinition {
	return &WorkflowDefinition{
		WorkflowType:          "summarize_tag",
		Name:                  "Summarize and tag a file",
		Description:           "Summarize the file's content and save the summary",
		Mode:                  ModeDirect,
		AutoAdvanceOnApproval: true,
		Steps: map[string]Step{
			"file_path_input": NewFileSelectionStep("file_path_input", "select the file to summarize",
				"Which file should I summarize?", "current_file_path", true, ingestor),
			"summarize": NewLLMProcessingStep("summarize", "summarize the content",
				"Summarize the document and propose tags",
				"Summarize the following content and suggest up to three tags:\n{{current_file_path_content}}",
				[]string{"current_file_path", "current_file_path_content"}, "summary"),
			"save_summary": NewSystemStep("save_summary", "save the summary file", executor,
				"write_file", []string{"current_file_path", "summary"}, "summary_path"),
		},
		Transitions: map[string][]Transition{
			"file_path_input": {{To: "summarize"}},
			"summarize":       {{To: "save_summary"}},
			"save_summary":    {{To: EndStep}},
		},
		EntryPoint: "file_path_input",
		InitialParams: map[string]InitialParam{
			"current_file_path": {MapsToStep: "file_path_input"},
		},
	}
}

// translateDocumentDefinition reads a file, asks for the target language
// when not already known, delegates the translation to the external LLM,
// and saves the result.
func translateDocumentDefinition(ingestor FileIngestor, executor SystemActionExecutor) *WorkflowDefinition {
	return &WorkflowDefinition{
		WorkflowType:          "translate_document",
		Name:                  "Translate a document",
		Description:           "Translate the file into the target language and save it",
		Mode:                  ModeDirect,
		AutoAdvanceOnApproval: true,
		Steps: map[string]Step{
			"file_path_input": NewFileSelectionStep("file_path_input", "select the file to translate",
				"Which file should I translate?", "current_file_path", true, ingestor),
			"target_language_input": NewInputStep("target_language_input", "collect the target language",
				"Which language should I translate into?", "target_language", SkipIfDataExists()),
			"translate": NewLLMProcessingStep("translate", "translate the content",
				"Translate the document",
				"Translate the following content into {{target_language}}:\n{{current_file_path_content}}",
				[]string{"current_file_path", "current_file_path_content", "target_language"}, "translation"),
			"save_translation": NewSystemStep("save_translation", "save the translated file", executor,
				"write_file", []string{"current_file_path", "translation"}, "translation_path"),
		},
		Transitions: map[string][]Transition{
			"file_path_input":       {{To: "target_language_input"}},
			"target_language_input": {{To: "translate"}},
			"translate":             {{To: "save_translation"}},
			"save_translation":      {{To: EndStep}},
		},
		EntryPoint: "file_path_input",
		InitialParams: map[string]InitialParam{
			"current_file_path": {MapsToStep: "file_path_input"},
			"target_language":   {MapsToStep: "target_language_input"},
		},
	}
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
