package script

import "fmt"

// Describe renders the human-readable message for an action in the given state
func Describe(a *Action, status Status) string {
	arg := func(i int) string {
		if i >= len(a.Params) {
			return ""
		}
		if p := a.Params[i]; p.IsNested() {
			return "<" + string(p.Action.Type) + " result>"
		}
		return a.Params[i].Value
	}

	var running, done string
	switch a.Type {
	case TypeOpenTab, TypeNewTab:
		running, done = "Opening tab "+arg(0), "Opened tab "+arg(0)
	case TypeOpen:
		running, done = "Navigating to "+arg(0), "Loaded "+arg(0)
	case TypeInput:
		running, done = fmt.Sprintf("Typing %q into %s", arg(1), arg(0)), fmt.Sprintf("Typed %q into %s", arg(1), arg(0))
	case TypeClick:
		running, done = "Clicking "+arg(0), "Clicked "+arg(0)
	case TypeSelect:
		running, done = fmt.Sprintf("Selecting %q in %s", arg(1), arg(0)), fmt.Sprintf("Selected %q in %s", arg(1), arg(0))
	case TypeInfer:
		running, done = "Asking the model about "+arg(0), "Model answered about "+arg(0)
	case TypeWait:
		running, done = "Waiting for page load", "Page load complete"
	case TypeLogin:
		running, done = "Logging in at "+arg(0), "Logged in at "+arg(0)
	case TypeFetch:
		running, done = "Fetching "+arg(0), "Fetched "+arg(0)
	case TypeWhile:
		running, done = "Repeating while condition holds", "Loop finished"
	default:
		running, done = "Running "+string(a.Type), "Finished "+string(a.Type)
	}

	switch status {
	case StatusPending:
		return "Pending: " + running
	case StatusRunning:
		return running
	case StatusSuccess:
		return done
	case StatusCredsRequired:
		return "Credentials required: " + running
	case StatusError:
		return "Failed: " + running
	}
	return running
}
