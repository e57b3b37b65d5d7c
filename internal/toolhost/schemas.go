package toolhost

// schemas holds the JSON Schema (draft 2020-12 subset) document for each
// tool-host tool's payload, keyed by tool name. New compiles all of them
// with santhosh-tekuri/jsonschema/v6 up front and keeps the compiled *Schema.
var schemas = map[string]string{
	"write_task": `{
		"type": "object",
		"required": ["id", "title", "status"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"title": {"type": "string", "minLength": 1},
			"description": {"type": "string"},
			"status": {"enum": ["not_started", "in_progress", "completed", "blocked", "skipped", "failed"]},
			"dependencies": {"type": "array", "items": {"type": "string"}},
			"estimated_iterations": {"type": "integer", "minimum": 0}
		}
	}`,
	"complete_task": `{
		"type": "object",
		"required": ["task_id"],
		"properties": {"task_id": {"type": "string", "minLength": 1}}
	}`,
	"fail_task": `{
		"type": "object",
		"required": ["task_id", "reason"],
		"properties": {
			"task_id": {"type": "string", "minLength": 1},
			"reason": {"type": "string", "minLength": 1}
		}
	}`,
	"add_plan_group": `{
		"type": "object",
		"required": ["group_index", "task_ids"],
		"properties": {
			"group_index": {"type": "integer", "minimum": 0},
			"task_ids": {"type": "array", "items": {"type": "string"}, "minItems": 1}
		}
	}`,
	"update_loop_status": `{
		"type": "object",
		"required": ["loop_id", "status"],
		"properties": {
			"loop_id": {"type": "string", "minLength": 1},
			"status": {"enum": ["pending", "running", "stuck", "completed", "failed", "interrupted"]}
		}
	}`,
	"record_cost": `{
		"type": "object",
		"required": ["amount_usd"],
		"properties": {
			"amount_usd": {"type": "number", "minimum": 0},
			"phase": {"type": "string"},
			"loop_id": {"type": "string"}
		}
	}`,
	"add_context": `{
		"type": "object",
		"required": ["type", "content"],
		"properties": {
			"type": {"enum": ["discovery", "error", "decision", "review_issue", "codebase_analysis", "scratchpad", "task", "plan_group"]},
			"content": {"type": "string", "minLength": 1},
			"task_id": {"type": "string"},
			"loop_id": {"type": "string"},
			"file_path": {"type": "string"},
			"line_number": {"type": "integer"}
		}
	}`,
	"set_review_result": `{
		"type": "object",
		"required": ["passed"],
		"properties": {
			"passed": {"type": "boolean"},
			"issues": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["description", "severity"],
					"properties": {
						"task_id": {"type": "string"},
						"severity": {"type": "string"},
						"description": {"type": "string", "minLength": 1},
						"file_path": {"type": "string"},
						"line_number": {"type": "integer"}
					}
				}
			}
		}
	}`,
	"set_loop_review_result": `{
		"type": "object",
		"required": ["loop_id", "passed"],
		"properties": {
			"loop_id": {"type": "string", "minLength": 1},
			"passed": {"type": "boolean"},
			"issues": {"type": "array"}
		}
	}`,
	"create_loop": `{
		"type": "object",
		"required": ["loop_id", "task_ids"],
		"properties": {
			"loop_id": {"type": "string", "minLength": 1},
			"task_ids": {"type": "array", "items": {"type": "string"}, "minItems": 1}
		}
	}`,
	"persist_loop_state": `{
		"type": "object",
		"required": ["loop_id"],
		"properties": {
			"loop_id": {"type": "string", "minLength": 1},
			"scratchpad": {
				"type": "object",
				"properties": {
					"done": {"type": "boolean"},
					"test_status": {"type": "string"},
					"next_step": {"type": "string"},
					"blockers": {"type": "string"}
				}
			}
		}
	}`,
	"record_phase_cost": `{
		"type": "object",
		"required": ["phase", "amount_usd"],
		"properties": {
			"phase": {"type": "string", "minLength": 1},
			"amount_usd": {"type": "number", "minimum": 0}
		}
	}`,
	"set_codebase_analysis": `{
		"type": "object",
		"required": ["summary"],
		"properties": {
			"project_type": {"type": "string"},
			"tech_stack": {"type": "array", "items": {"type": "string"}},
			"directory_structure": {"type": "string"},
			"existing_features": {"type": "array", "items": {"type": "string"}},
			"entry_points": {"type": "array", "items": {"type": "string"}},
			"patterns": {"type": "array", "items": {"type": "string"}},
			"summary": {"type": "string", "minLength": 1}
		}
	}`,
}
