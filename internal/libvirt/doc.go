// Package libvirt is the hypervisor gateway.
//
// Conn owns the single connection to the local libvirt daemon. Gateway wraps
// the domain calls hearth needs (lookup, define, start, stop, destroy,
// undefine, state) behind the consumer-side Client interface, which
// *libvirt.Libvirt satisfies, so tests can substitute a mock:
//
//	conn, err := libvirt.Connect(ctx, "", 0)
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	gw := libvirt.NewGateway(conn.Libvirt(), log)
//	dom, found, err := gw.Lookup("vm-1a2b3c4d")
//
// A missing domain is never an error from Lookup; it is reported as
// found=false. Stop and Destroy treat an inactive domain as already done,
// and Undefine treats a missing domain as already undefined.
//
// RenderDomainXML turns a descriptor.DomainDescriptor into libvirt domain XML
// with the hearth ownership record (see internal/metadata) embedded.
package libvirt
