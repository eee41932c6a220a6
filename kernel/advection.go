package kernel

// Stock advection kernel sources. These are ordinary kernel-language inputs,
// not special cases: users combine them with their own kernels in a chain.

// AdvectionEE advances particles with the explicit (forward) Euler scheme.
const AdvectionEE = `func AdvectionEE(particle, fieldset, time) {
	u := fieldset.U[particle]
	v := fieldset.V[particle]
	particle.dlon += u * particle.dt
	particle.dlat += v * particle.dt
}`

// AdvectionRK4 advances particles with a fourth-order Runge-Kutta scheme.
// Intermediate positions are derived from the committed position; only the
// final increment goes through the delta accumulators.
const AdvectionRK4 = `func AdvectionRK4(particle, fieldset, time) {
	u1 := fieldset.U[particle]
	v1 := fieldset.V[particle]
	lon1 := particle.lon + u1*0.5*particle.dt
	lat1 := particle.lat + v1*0.5*particle.dt

	u2 := fieldset.U[time + 0.5*particle.dt, particle.depth, lat1, lon1]
	v2 := fieldset.V[time + 0.5*particle.dt, particle.depth, lat1, lon1]
	lon2 := particle.lon + u2*0.5*particle.dt
	lat2 := particle.lat + v2*0.5*particle.dt

	u3 := fieldset.U[time + 0.5*particle.dt, particle.depth, lat2, lon2]
	v3 := fieldset.V[time + 0.5*particle.dt, particle.depth, lat2, lon2]
	lon3 := particle.lon + u3*particle.dt
	lat3 := particle.lat + v3*particle.dt

	u4 := fieldset.U[time + particle.dt, particle.depth, lat3, lon3]
	v4 := fieldset.V[time + particle.dt, particle.depth, lat3, lon3]

	particle.dlon += (u1 + 2*u2 + 2*u3 + u4) / 6.0 * particle.dt
	particle.dlat += (v1 + 2*v2 + 2*v3 + v4) / 6.0 * particle.dt
}`
