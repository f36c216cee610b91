package engine

type fanout []Publisher

func (f fanout) Publish(event string, data any) {
	for _, p := range f {
		p.Publish(event, data)
	}
}

// MultiPublisher combines publishers into one; nil entries are skipped.
func MultiPublisher(ps ...Publisher) Publisher {
	var out fanout
	for _, p := range ps {
		if p != nil {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
