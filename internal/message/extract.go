package message

import "iter"

// Walk yields every part of msg depth-first, parents before children,
// starting with the root.
func Walk(msg *Message) iter.Seq[*Part] {
	return func(yield func(*Part) bool) {
		if msg == nil || msg.Root == nil {
			return
		}
		walk(msg.Root, yield)
	}
}

func walk(p *Part, yield func(*Part) bool) bool {
	if !yield(p) {
		return false
	}
	for _, c := range p.Children {
		if !walk(c, yield) {
			return false
		}
	}
	return true
}

// Attachments yields the parts of msg whose disposition is "attachment",
// at any depth, numbered from 1 in traversal order.
func Attachments(msg *Message) iter.Seq[Attachment] {
	return func(yield func(Attachment) bool) {
		n := 0
		for p := range Walk(msg) {
			if !p.IsAttachment() {
				continue
			}
			n++
			a := Attachment{
				Index:       n,
				Filename:    p.Filename,
				ContentType: p.ContentType,
				Payload:     p.Body,
			}
			if !yield(a) {
				return
			}
		}
	}
}
