package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockList maps CDP resource types to the config names that block them.
type blockList map[proto.NetworkResourceType]bool

var configNames = map[string]proto.NetworkResourceType{
	"images":      proto.NetworkResourceTypeImage,
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
}

func newBlockList(names []string) blockList {
	bl := make(blockList, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if t, ok := configNames[n]; ok {
			bl[t] = true
			continue
		}
		// Raw CDP names ("Ping", "Manifest") are accepted as-is.
		for _, t := range []proto.NetworkResourceType{
			proto.NetworkResourceTypePing,
			proto.NetworkResourceTypeManifest,
			proto.NetworkResourceTypeTextTrack,
		} {
			if strings.EqualFold(string(t), n) {
				bl[t] = true
			}
		}
	}
	return bl
}

func (bl blockList) blocks(t proto.NetworkResourceType) bool {
	return bl[t]
}

// blockResources fails matching requests on page. The returned router must
// be stopped when the tab closes.
func blockResources(page *rod.Page, names []string) *rod.HijackRouter {
	bl := newBlockList(names)
	if len(bl) == 0 {
		return nil
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if bl.blocks(h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
