package node

import (
	"github.com/google/uuid"

	"github.com/forestrie/go-sectiond/command"
	"github.com/forestrie/go-sectiond/sectionchain"
	"github.com/forestrie/go-sectiond/wiremsg"
	"github.com/forestrie/go-sectiond/xorname"
)

// broadcastKeyRotation implements the "Sibling and our-section update
// broadcast" behavior (§4.2): on a successful rotation of our own
// section's key, push an unsolicited Update to every other current
// member of our section, carrying the *previous* key as dst.section_key
// so each recipient's own entropy check deterministically resolves it as
// a stale-key Retry and adopts the new SAP. If the rotation was a split
// promoting us into a child section, also push one Update to each
// newly-promoted sibling elder that was not an elder under the pre-split
// SAP.
//
// prevSigned is our signed SAP as it stood immediately before the update
// that just applied; the caller captures it before calling
// networkknowledge.Knowledge.UpdateIfValid.
func (n *Node) broadcastKeyRotation(prevSigned sectionchain.SignedSAP) []command.Command {
	newSigned := n.Knowledge.SignedSAP()
	if sectionchain.KeyEqual(newSigned.SAP.SectionKey, prevSigned.SAP.SectionKey) {
		return nil
	}

	prevKeyBytes, err := sectionchain.MarshalKey(prevSigned.SAP.SectionKey)
	if err != nil {
		n.log.Infof("broadcast: marshalling previous section key: %v", err)
		return nil
	}

	update, err := wiremsg.MarshalSAP(newSigned, nil, nil)
	if err != nil {
		n.log.Infof("broadcast: marshalling rotated SAP: %v", err)
		return nil
	}
	payload := wiremsg.AntiEntropyPayload{Kind: wiremsg.AEUpdate, SectionTreeUpdate: update}
	encoded, err := wiremsg.EncodeAntiEntropy(payload)
	if err != nil {
		n.log.Infof("broadcast: encoding rotated SAP update: %v", err)
		return nil
	}

	var out []command.Command
	send := func(target sectionchain.Elder) {
		msg := wiremsg.WireMsg{
			MsgID:    uuid.New(),
			Kind:     wiremsg.KindNode,
			Payload:  encoded,
			Dst:      wiremsg.Dst{Name: target.Name, SectionKey: prevKeyBytes},
			Priority: command.PriorityControlFollowup,
		}
		out = append(out, command.NewWithPriority(command.SendMsg, msg.Priority, ResendTarget{Msg: msg, Target: target}))
	}

	for _, m := range n.Knowledge.Members() {
		if m.Name.Equal(n.SelfName) || m.State != sectionchain.Joined {
			continue
		}
		send(sectionchain.Elder{Name: m.Name, Address: m.Address})
	}

	if newSigned.SAP.Prefix.IsExtensionOf(prevSigned.SAP.Prefix) {
		if sibling, ok := newSigned.SAP.Prefix.Sibling(); ok {
			if sibSAP, ok := n.Knowledge.SignedSAPForPrefix(sibling); ok {
				wasElder := make(map[xorname.XorName]bool, len(prevSigned.SAP.Elders))
				for _, e := range prevSigned.SAP.Elders {
					wasElder[e.Name] = true
				}
				for _, e := range sibSAP.SAP.Elders {
					if !wasElder[e.Name] {
						send(e)
					}
				}
			}
		}
	}

	return out
}
